package protocol

// error bodies
const (
	MsgUnsupportedMethod = "Method not supported"
	MsgFileNotFound      = "File not found"
)

// lookup table for status codes
// i use flat list instead of map bc codes is fixed
// only what this server sends, 500 is the fallback for everything else
var statusTable = [501][]byte{
	200: []byte("200 OK"),
	404: []byte("404 Not Found"),
	500: []byte("500 Internal Server Error"),
}

// for fast access
var (
	proto = []byte("HTTP/1.0 ")
	crlf  = []byte("\r\n")
	colon = []byte(": ")

	hContentType   = []byte("Content-type")
	hContentLength = []byte("Content-length")
	errorType      = []byte("text")
)

// response header, order is kept on the wire
type Header struct {
	Key, Val []byte
}

// helper func to copy int to pre-allocated buf, buf is dst[n:]
// n should be uint bc / 10 (and % 10) for uints is faster, and our len or code >= 0
func IntToBuf(buf []byte, n uint64) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n%10) + '0'
		n /= 10
	}
	return copy(buf, tmp[i:])
}

// size of the serialized response, so dst is allocated once
func respSize(code int, headers []Header, body []byte) int {
	n := len(proto) + len(statusLine(code)) + len(crlf)
	for _, h := range headers {
		n += len(h.Key) + len(colon) + len(h.Val) + len(crlf)
	}
	return n + len(crlf) + len(body)
}

func statusLine(code int) []byte {
	if code < 0 || code >= len(statusTable) || statusTable[code] == nil {
		return statusTable[500]
	}
	return statusTable[code]
}

// build response into dst, dst must have room for it (see respSize)
func BuildResp(code int, headers []Header, body, dst []byte) int {
	n := copy(dst, proto)
	n += copy(dst[n:], statusLine(code))
	n += copy(dst[n:], crlf)

	for _, h := range headers {
		n += copy(dst[n:], h.Key)
		n += copy(dst[n:], colon)
		n += copy(dst[n:], h.Val)
		n += copy(dst[n:], crlf)
	}

	n += copy(dst[n:], crlf)
	if len(body) > 0 {
		n += copy(dst[n:], body)
	}

	return n
}

// AppendResp serializes a full response into one new slice.
func AppendResp(code int, headers []Header, body []byte) []byte {
	dst := make([]byte, respSize(code, headers, body))
	return dst[:BuildResp(code, headers, body, dst)]
}

// BuildError is the 404-style response used for every failure in this server.
func BuildError(msg string) []byte {
	var lenBuf [20]byte
	n := IntToBuf(lenBuf[:], uint64(len(msg)))

	return AppendResp(404, []Header{
		{Key: hContentType, Val: errorType},
		{Key: hContentLength, Val: lenBuf[:n]},
	}, []byte(msg))
}

// BuildFile is the 200 response for a file of the given length,
// body is nil for HEAD and the whole content for GET.
func BuildFile(ctype string, length int64, body []byte) []byte {
	var lenBuf [20]byte
	n := IntToBuf(lenBuf[:], uint64(max(length, 0)))

	return AppendResp(200, []Header{
		{Key: hContentType, Val: []byte(ctype)},
		{Key: hContentLength, Val: lenBuf[:n]},
	}, body)
}
