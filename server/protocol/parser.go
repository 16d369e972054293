// parse the request line accumulated in a session
// only parser logic, no sockets here
package protocol

import (
	"bytes"
	"strings"

	"github.com/s00inx/staticserver/server/engine"
)

// resource served for targets ending with a slash
const IndexFile = "html.index"

// token separators of the request line
const blanks = " \t\r\f"

// stateless HTTPParser struct
// should be init in server.go
type HTTPParser struct{}

// look for a full line in the session input and parse it into s.Req
// false w nil error means the line is not complete yet, wait for more bytes
func (p *HTTPParser) Parse(s *engine.Session) (bool, error) {
	raw := s.Input()

	lf := bytes.IndexByte(raw, '\n')
	if lf == -1 {
		if s.Offset >= len(s.Buf) {
			return false, ErrLineTooLong
		}
		return false, nil
	}

	line := raw[:lf]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	ParseLine(line, &s.Req)
	return true, nil
}

// ParseLine fills req from one request line, trailing tokens are ignored.
// It never fails: a bad method or a missing target is recorded in req.Outcome.
func ParseLine(line []byte, req *engine.Request) {
	*req = engine.Request{}

	method, rest := nextToken(line)
	req.Method = strings.ToUpper(string(method))

	if req.Method != "GET" && req.Method != "HEAD" {
		req.Outcome = engine.OutcomeUnsupportedMethod
		return
	}

	target, _ := nextToken(rest)
	if len(target) == 0 {
		req.Outcome = engine.OutcomeTargetMissing
		return
	}

	req.Target = strings.ToLower(string(target))
	if strings.HasSuffix(req.Target, "/") {
		req.Target += IndexFile
	}
	req.Outcome = engine.OutcomeOK
}

// split off the first whitespace separated token
func nextToken(b []byte) (tok, rest []byte) {
	b = bytes.TrimLeft(b, blanks)

	end := bytes.IndexAny(b, blanks)
	if end == -1 {
		return b, nil
	}
	return b[:end], b[end:]
}
