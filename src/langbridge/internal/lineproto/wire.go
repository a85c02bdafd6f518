package lineproto

import "encoding/json"

// Wire packet type discriminators. A stdout line is a protocol message iff it
// parses as a JSON object carrying one of these in its Type field; anything
// else on the stream is human-readable log noise and is discarded.
const (
	packetTypeRequest  = "request"
	packetTypeResponse = "response"
	packetTypeEvent    = "event"
)

// request is one newline-delimited call written to the backend's stdin.
type request struct {
	Type      string      `json:"Type"`
	Seq       int64       `json:"Seq"`
	Command   string      `json:"Command"`
	Arguments interface{} `json:"Arguments,omitempty"`
}

// packet is the superset shape of every line the backend emits on stdout.
type packet struct {
	Type       string          `json:"Type"`
	Seq        int64           `json:"Seq"`
	Command    string          `json:"Command"`
	RequestSeq int64           `json:"Request_seq"`
	Success    bool            `json:"Success"`
	Running    bool            `json:"Running"`
	Message    string          `json:"Message"`
	Body       json.RawMessage `json:"Body"`
	Event      string          `json:"Event"`
}
