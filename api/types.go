// Package api defines the transport-neutral payload types exchanged between
// coedit clients and the server, over both the REST endpoints and the
// WebSocket topics.
package api

import "encoding/json"

// Role values recognised by the server. Anything other than RoleAdmin is
// treated as the default role.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Topic names for the broadcast hub. The set is fixed; there is no dynamic
// topic creation.
const (
	TopicChat     = "chat"
	TopicPresence = "presence"
	TopicFiles    = "files"
	TopicUpdates  = "updates"
)

// Action names accepted on the WebSocket inbound leg.
const (
	ActionChatSend   = "chat.send"
	ActionPresence   = "presence"
	ActionFileCreate = "files.create"
	ActionFileDelete = "files.delete"
	ActionEdit       = "edit"
)

// Edit result kinds carried by EditResponse.Type.
const (
	EditUpdate = "UPDATE"
	EditLocked = "LOCKED"
	EditError  = "ERROR"
)

// File event signals broadcast on the files topic.
const (
	FileRefresh  = "UPDATE_NEEDED"
	FileRejected = "REJECTED"
)

// Envelope frames every WebSocket message. Inbound frames carry Action and
// Payload; outbound frames carry Topic and Payload.
type Envelope struct {
	// Action selects the server-side handler for inbound frames.
	Action string `json:"action,omitempty"`
	// Topic identifies the broadcast topic on outbound frames.
	Topic string `json:"topic,omitempty"`
	// Payload is the action- or topic-specific JSON body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatMessage is published on the chat topic. The server stamps Timestamp
// (HH:MM, server-local clock) and ID; any client-supplied values for those
// fields are discarded.
type ChatMessage struct {
	// ID is a server-assigned unique message identifier.
	ID string `json:"id,omitempty"`
	// Sender is the display name of the user who sent the message.
	Sender string `json:"sender"`
	// Content is the chat text.
	Content string `json:"content"`
	// Timestamp is the server-local send time formatted as HH:MM.
	Timestamp string `json:"timestamp,omitempty"`
}

// PresenceUpdate reports which file a user is currently viewing.
type PresenceUpdate struct {
	// User is the display name of the user.
	User string `json:"user"`
	// File is the logical path the user currently has open.
	File string `json:"file"`
}

// FileCreateRequest asks the server to create an empty file under the
// creator's directory.
type FileCreateRequest struct {
	// Name is the file name relative to the creator's directory.
	Name string `json:"name"`
	// Creator is the user creating the file; it becomes the top-level segment.
	Creator string `json:"creator"`
	// Role is the requester's role string.
	Role string `json:"role"`
}

// FileDeleteRequest asks the server to delete a file. Admin only.
type FileDeleteRequest struct {
	// Path is the logical path to delete.
	Path string `json:"path"`
	// Role is the requester's role string.
	Role string `json:"role"`
}

// EditRequest carries a full-content edit of one file.
type EditRequest struct {
	// FileName is the logical path being edited.
	FileName string `json:"fileName"`
	// Content is the complete new file content (full payload, not a delta).
	Content string `json:"content"`
	// User is the editing user.
	User string `json:"user"`
	// Role is the editing user's role string.
	Role string `json:"role"`
}

// EditResponse is broadcast on the updates topic for every edit attempt.
type EditResponse struct {
	// Type is one of EditUpdate, EditLocked or EditError.
	Type string `json:"type"`
	// Content holds the new file content on UPDATE, or a diagnostic message
	// on LOCKED/ERROR.
	Content string `json:"content"`
	// User is the user whose edit produced this response.
	User string `json:"user"`
	// FileName is the logical path the response refers to.
	FileName string `json:"fileName"`
}

// RunRequest models the JSON payload for POST /api/run. Only the first entry
// of Files is executed.
type RunRequest struct {
	// Language selects the execution pipeline (for example "java", "python").
	Language string `json:"language"`
	// Files carries the source files; only Files[0].Content is used.
	Files []RunFile `json:"files"`
}

// RunFile is one source file within a RunRequest.
type RunFile struct {
	// Name is the client-side file name; informational only.
	Name string `json:"name,omitempty"`
	// Content is the program source text.
	Content string `json:"content"`
}

// RunResponse wraps the combined output of an execution, mirroring the shape
// the editor frontend expects.
type RunResponse struct {
	// Run carries the execution output.
	Run RunOutput `json:"run"`
}

// RunOutput holds the combined stdout+stderr text of one execution.
type RunOutput struct {
	// Output is the interleaved stdout and stderr captured from the program.
	Output string `json:"output"`
}
