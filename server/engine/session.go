package engine

// request outcome, decided by the parser and consumed by the responder
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	OutcomeUnsupportedMethod
	OutcomeTargetMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnsupportedMethod:
		return "unsupported method"
	case OutcomeTargetMissing:
		return "target missing"
	}
	return "unknown"
}

// parsed request line
// Method is upper-cased, Target is lower-cased and already points to the index resource for dirs
type Request struct {
	Method  string
	Target  string
	Outcome Outcome
}

// only GET carries a body in the response, HEAD gets headers only
func (r *Request) BodyRequired() bool {
	return r.Method == "GET"
}

// which direction a session is registered for in epoll
type Interest uint8

const (
	AwaitingRequest Interest = iota // EPOLLIN, accumulating the request line
	SendingResponse                 // EPOLLOUT, flushing Out
)

func (i Interest) String() string {
	if i == SendingResponse {
		return "sending"
	}
	return "awaiting"
}

// session is all the state one connection carries between loop iterations
// buf and offset hold raw input, Out and Sent hold the serialized response
type Session struct {
	Fd     int
	Remote string

	Buf    []byte // from the engine buffer pool, nil until first read
	Offset int

	Req  Request
	Mode Interest

	Out  []byte // full response, built once on the first writable event
	Sent int
}

// bytes read so far
func (s *Session) Input() []byte {
	return s.Buf[:s.Offset]
}

// bytes of the response still waiting for the socket
func (s *Session) Pending() []byte {
	return s.Out[s.Sent:]
}

// reset session for put it to pool
func (s *Session) Reset() {
	s.Fd = -1
	s.Remote = ""
	s.Buf = nil
	s.Offset = 0
	s.Req = Request{}
	s.Mode = AwaitingRequest
	s.Out = nil
	s.Sent = 0
}
