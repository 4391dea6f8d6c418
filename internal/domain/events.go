package domain

// EventType discriminates the TreeStreamEvent tagged union (spec §6).
type EventType string

const (
	EventTreeStarted    EventType = "tree_started"
	EventNodeProcessing EventType = "node_processing"
	EventNodeCompleted  EventType = "node_completed"
	EventDepthCompleted EventType = "depth_completed"
	EventTreeCompleted  EventType = "tree_completed"
	EventError          EventType = "error"
)

// TreeStreamEvent is the wire envelope written as one SSE record:
// `data: <json>\n\n`. Data is one of the *Data structs below, chosen by
// Type; consumers switch exhaustively on Type rather than type-asserting.
type TreeStreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// TreeStartedData accompanies EventTreeStarted.
type TreeStartedData struct {
	Seed EventNode `json:"seed"`
}

// NodeProcessingData accompanies EventNodeProcessing.
type NodeProcessingData struct {
	NodeID string `json:"nodeId"`
	Depth  int    `json:"depth"`
	Event  string `json:"event"`
}

// NodeCompletedData accompanies EventNodeCompleted.
type NodeCompletedData struct {
	Node     EventNode   `json:"node"`
	Children []EventNode `json:"children"`
}

// DepthCompletedData accompanies EventDepthCompleted.
type DepthCompletedData struct {
	Depth          int `json:"depth"`
	NodesProcessed int `json:"nodesProcessed"`
}

// TreeCompletedData accompanies EventTreeCompleted. DurationMs is
// wall-clock milliseconds for the whole build.
type TreeCompletedData struct {
	TotalNodes int   `json:"totalNodes"`
	DurationMs int64 `json:"duration"`
}

// ErrorData accompanies EventError. NodeID is absent for scheduler-level
// (non-node) failures.
type ErrorData struct {
	Message string  `json:"message"`
	NodeID  *string `json:"nodeId,omitempty"`
}

func TreeStarted(seed EventNode) TreeStreamEvent {
	return TreeStreamEvent{Type: EventTreeStarted, Data: TreeStartedData{Seed: seed}}
}

func NodeProcessing(nodeID string, depth int, event string) TreeStreamEvent {
	return TreeStreamEvent{Type: EventNodeProcessing, Data: NodeProcessingData{NodeID: nodeID, Depth: depth, Event: event}}
}

func NodeCompleted(node EventNode, children []EventNode) TreeStreamEvent {
	return TreeStreamEvent{Type: EventNodeCompleted, Data: NodeCompletedData{Node: node, Children: children}}
}

func DepthCompleted(depth, nodesProcessed int) TreeStreamEvent {
	return TreeStreamEvent{Type: EventDepthCompleted, Data: DepthCompletedData{Depth: depth, NodesProcessed: nodesProcessed}}
}

func TreeCompleted(totalNodes int, durationMs int64) TreeStreamEvent {
	return TreeStreamEvent{Type: EventTreeCompleted, Data: TreeCompletedData{TotalNodes: totalNodes, DurationMs: durationMs}}
}

func Error(message string, nodeID *string) TreeStreamEvent {
	return TreeStreamEvent{Type: EventError, Data: ErrorData{Message: message, NodeID: nodeID}}
}
