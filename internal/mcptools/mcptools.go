// Package mcptools is the in-process MCP surface every agent subprocess
// is spawned with (spec §4.9): a handful of tools that let an agent talk
// to its mailbox and read/advance its own tasks without shell access to
// protected/. Grounded on the original's mcp_tools.py — each tool
// closure bakes in the calling agent's team/identity so a tool call can
// never impersonate another agent, and administrative operations
// (team/network/workflow config) are deliberately not exposed here. The
// Tool/InputSchema shape itself is carried from the teacher's
// orchestration/fabric/mcp package.
package mcptools

// Tool is an MCP tool definition, in the shape every Telephone's
// SpawnConfig.MCPServers ultimately advertises to the underlying agent
// SDK. Field names mirror the MCP wire protocol.
type Tool struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	InputSchema *InputSchema `json:"inputSchema"` //nolint:tagliatelle
}

// InputSchema is a tool's JSON Schema input shape.
type InputSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]*PropertySchema `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// PropertySchema is a single property within an InputSchema.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Result is the uniform MCP tool-call result envelope: a list of text
// blocks, with IsError set when the call failed. Every handler in this
// package returns exactly one text block.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one block of a Result's content list.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(err error) Result {
	return Result{
		Content: []ContentBlock{{Type: "text", Text: "ERROR: " + err.Error()}},
		IsError: true,
	}
}

// Definitions returns the MCP tool definitions every agent is handed,
// independent of which agent is asking — the identity binding happens
// at Dispatch time, not in the schema.
func Definitions() []Tool {
	return []Tool{
		toolMailboxSend,
		toolMailboxInbox,
		toolTaskRead,
		toolTaskUpdateStatus,
	}
}

var toolMailboxSend = Tool{
	Name:        "mailbox_send",
	Description: "Send a message to another team member. This is the only way to communicate with others.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"recipient": {Type: "string", Description: "Agent or human name to send to"},
			"message":   {Type: "string", Description: "Message body"},
			"task_id":   {Type: "number", Description: "Optional task ID to associate the message with"},
		},
		Required: []string{"recipient", "message"},
	},
}

var toolMailboxInbox = Tool{
	Name:        "mailbox_inbox",
	Description: "Check your inbox for unread messages.",
	InputSchema: &InputSchema{
		Type:       "object",
		Properties: map[string]*PropertySchema{},
	},
}

var toolTaskRead = Tool{
	Name:        "task_read",
	Description: "Read a task's current title, description, status, and dependencies.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"task_id": {Type: "number", Description: "Task ID to read"},
		},
		Required: []string{"task_id"},
	},
}

var toolTaskUpdateStatus = Tool{
	Name:        "task_update_status",
	Description: "Change the status of a task you own (e.g. 'in_review', 'in_approval').",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"task_id":    {Type: "number", Description: "Task ID to transition"},
			"new_status": {Type: "string", Description: "Target status"},
		},
		Required: []string{"task_id", "new_status"},
	},
}
