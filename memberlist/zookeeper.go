package memberlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// zkConn is the subset of *zk.Conn the source uses.
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	State() zk.State
	Close()
}

// ZKParams groups parameters for NewZKSource.
type ZKParams struct {
	Servers        []string
	Root           string
	Self           string
	SessionTimeout time.Duration
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	Logger         *slog.Logger
}

// ZKSource registers this node as an ephemeral child of <root>/nodes and
// reports the children of that node whenever they change.
type ZKSource struct {
	conn           zkConn
	nodesPath      string
	self           string
	connectTimeout time.Duration
	retryInterval  time.Duration
	logger         *slog.Logger
}

type zkLogger struct{ l *slog.Logger }

func (z zkLogger) Printf(format string, args ...interface{}) {
	z.l.Debug(fmt.Sprintf(format, args...))
}

// NewZKSource connects to the ensemble. The session is established in the
// background; Watch waits for it.
func NewZKSource(params ZKParams) (*ZKSource, error) {
	if len(params.Servers) == 0 {
		return nil, errors.New("zookeeper: no servers configured")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "ZKSource")
	if params.SessionTimeout <= 0 {
		params.SessionTimeout = 5 * time.Second
	}
	conn, _, err := zk.Connect(params.Servers, params.SessionTimeout, zk.WithLogger(zkLogger{logger}))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return newZKSource(conn, params, logger), nil
}

func newZKSource(conn zkConn, params ZKParams, logger *slog.Logger) *ZKSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	root := params.Root
	if root == "" {
		root = "/chroma"
	}
	s := &ZKSource{
		conn:           conn,
		nodesPath:      path.Join("/", root, "nodes"),
		self:           params.Self,
		connectTimeout: params.ConnectTimeout,
		retryInterval:  params.RetryInterval,
		logger:         logger,
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = 10 * time.Second
	}
	if s.retryInterval <= 0 {
		s.retryInterval = 2 * time.Second
	}
	return s
}

// Close ends the session, which removes this node's ephemeral entry.
func (s *ZKSource) Close() error {
	s.conn.Close()
	return nil
}

// RegisterSelf creates the ephemeral node for this worker.
func (s *ZKSource) RegisterSelf(ctx context.Context) error {
	if err := s.waitConnected(ctx); err != nil {
		return err
	}
	if err := s.ensurePath(s.nodesPath); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}
	nodePath := s.nodesPath + "/" + s.self
	if _, err := s.conn.Create(nodePath, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}
	s.logger.Info("Registered node.", "path", nodePath)
	return nil
}

func (s *ZKSource) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

func (s *ZKSource) waitConnected(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := s.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("zk: not connected, state=%v: %w", st, ctx.Err())
		}
	}
}

// Watch registers this node and then streams the member set on every
// change of the nodes path.
func (s *ZKSource) Watch(ctx context.Context) (<-chan Memberlist, error) {
	if s.self != "" {
		if err := s.RegisterSelf(ctx); err != nil {
			return nil, err
		}
	} else if err := s.waitConnected(ctx); err != nil {
		return nil, err
	}

	out := make(chan Memberlist, 1)
	go func() {
		defer close(out)
		var (
			last Memberlist
			sent bool
		)
		for {
			children, _, events, err := s.conn.ChildrenW(s.nodesPath)
			if err != nil {
				s.logger.Warn("ChildrenW failed, retrying.", "path", s.nodesPath, "error", err)
				select {
				case <-time.After(s.retryInterval):
					continue
				case <-ctx.Done():
					return
				}
			}
			members := Memberlist(children).Normalize()
			if !sent || !members.Equal(last) {
				select {
				case out <- members:
					last, sent = members, true
				case <-ctx.Done():
					return
				}
			}
			select {
			case ev := <-events:
				s.logger.Debug("Membership event.", "type", ev.Type.String(), "path", ev.Path)
			case <-ctx.Done():
				s.logger.Debug("Membership watch stopped.")
				return
			}
		}
	}()
	return out, nil
}

var _ Source = (*ZKSource)(nil)
