package server

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/s00inx/staticserver/server/engine"
	"github.com/s00inx/staticserver/server/files"
	"github.com/s00inx/staticserver/server/protocol"
)

// New(cfg, opts)  - bind the loopback socket for cfg.Port and serve cfg.Dir
// Run(ctx)        - event loop until ctx is done
// Port()          - bound port
// Parse(s)        - engine.Handler, request line -> s.Req
// Respond(s)      - engine.Handler, s.Req -> full response bytes

type Server struct {
	prs   protocol.HTTPParser
	store files.Store
	eng   *engine.Engine
	log   logrus.FieldLogger

	engOpts []engine.Option
}

type Option func(s *Server)

// WithStore replaces the directory backed store.
func WithStore(st files.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithEngineOptions passes tunables through to the event loop.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Server) {
		s.engOpts = append(s.engOpts, opts...)
	}
}

// New binds the listening socket, a bind error means the server can't start.
func New(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		dir, err := files.NewDir(cfg.Dir)
		if err != nil {
			return nil, err
		}
		s.store = dir
	}

	eng, err := engine.New(Loopback, cfg.Port, s,
		append([]engine.Option{engine.WithLogger(s.log)}, s.engOpts...)...)
	if err != nil {
		return nil, err
	}
	s.eng = eng
	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	return s.eng.Run(ctx)
}

func (s *Server) Port() int {
	return s.eng.Port()
}

func (s *Server) Parse(sess *engine.Session) (bool, error) {
	return s.prs.Parse(sess)
}

// Respond picks the response shape for the parsed request and serializes it
func (s *Server) Respond(sess *engine.Session) []byte {
	req := &sess.Req
	log := s.log.WithFields(logrus.Fields{
		"fd":     sess.Fd,
		"method": req.Method,
		"target": req.Target,
	})

	switch req.Outcome {
	case engine.OutcomeUnsupportedMethod:
		log.Debug("method not supported")
		return protocol.BuildError(protocol.MsgUnsupportedMethod)
	case engine.OutcomeTargetMissing:
		log.Debug("no target in request line")
		return protocol.BuildError(protocol.MsgFileNotFound)
	}

	if !s.store.Exists(req.Target) {
		log.Debug("file not found")
		return protocol.BuildError(protocol.MsgFileNotFound)
	}

	length, err := s.store.Length(req.Target)
	if err != nil {
		log.WithError(err).Warn("stat failed after exists")
		return protocol.BuildError(protocol.MsgFileNotFound)
	}

	var body []byte
	if req.BodyRequired() {
		if body, err = s.store.ReadAll(req.Target); err != nil {
			log.WithError(err).Warn("read failed after exists")
			return protocol.BuildError(protocol.MsgFileNotFound)
		}
		// length follows the bytes actually read, the file may change after stat
		length = int64(len(body))
	}

	return protocol.BuildFile(protocol.ContentType(req.Target), length, body)
}
