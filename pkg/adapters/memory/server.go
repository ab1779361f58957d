// Package memory provides an in-process authoritative server speaking the
// service's wire protocol. It implements core.Transport and is meant for
// tests, demos and offline development.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
)

type record struct {
	node    *core.Node
	version int64
	// clientID is the provisional ID the node was created under, echoed
	// back on every answer that carries the node.
	clientID string
	// tombstone records are sent without a parent.
	tombstone bool
}

type labelRecord struct {
	label    *core.Label
	version  int64
	clientID string
}

// Server is an in-memory service. The zero value is not usable; call New.
type Server struct {
	mu       sync.Mutex
	codec    *codec.Codec
	logger   *slog.Logger
	nodes    map[string]*record
	labels   map[string]*labelRecord
	aliases  map[string]string // client ID -> server ID
	version  int64
	nextID   int
	token    string
	pageSize int
	failures []error
	resync   bool
	upgrade  bool
	hook     func(ctx context.Context) error
	requests []codec.ChangesRequest
}

// Option configures a Server.
type Option func(*Server)

// WithToken makes the server reject requests not carrying tok.
func WithToken(tok string) Option {
	return func(s *Server) {
		s.token = tok
	}
}

// WithPageSize caps the nodes per response; larger answers are truncated.
func WithPageSize(n int) Option {
	return func(s *Server) {
		s.pageSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		nodes:  make(map[string]*record),
		labels:  make(map[string]*labelRecord),
		aliases: make(map[string]string),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec = codec.New(codec.WithLogger(s.logger))
	return s
}

var _ core.Transport = (*Server)(nil)

// SetToken changes the accepted token, e.g. to simulate expiry.
func (s *Server) SetToken(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
}

// FailNext queues errors returned by the next calls, one per call.
func (s *Server) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// ForceResync makes the next incremental answer carry forceFullResync.
func (s *Server) ForceResync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resync = true
}

// RecommendUpgrade sets upgradeRecommended on every answer.
func (s *Server) RecommendUpgrade(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upgrade = on
}

// SetHook installs a function run at the start of every call, outside the
// server lock. A non-nil error is returned to the caller.
func (s *Server) SetHook(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// Requests returns every request received so far.
func (s *Server) Requests() []codec.ChangesRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Version returns the current server version.
func (s *Server) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Put stores a node as if another client had written it. The node's version
// is assigned by the server.
func (s *Server) Put(n *core.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	c := n.Clone()
	c.Version = s.version
	s.nodes[c.ID] = &record{node: c, version: s.version}
}

// PutLabel stores a label as if another client had written it.
func (s *Server) PutLabel(l *core.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.labels[l.ID] = &labelRecord{label: l.Clone(), version: s.version}
}

// Get returns a copy of a stored node.
func (s *Server) Get(id string) (*core.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return r.node.Clone(), true
}

// Label returns a copy of a stored label.
func (s *Server) Label(id string) (*core.Label, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.labels[id]
	if !ok {
		return nil, false
	}
	return r.label.Clone(), true
}

// Nodes returns copies of every live node, by ID.
func (s *Server) Nodes() []*core.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Node
	for _, id := range slices.Sorted(maps.Keys(s.nodes)) {
		r := s.nodes[id]
		if !r.tombstone && !r.node.Deleted() {
			out = append(out, r.node.Clone())
		}
	}
	return out
}

// Purge drops a node so that clients receive a tombstone for it.
func (s *Server) Purge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nodes[id]
	if !ok {
		return
	}
	s.version++
	r.version = s.version
	r.tombstone = true
}

// Changes implements core.Transport.
func (s *Server) Changes(ctx context.Context, req core.Request) ([]byte, error) {
	return s.serve(ctx, "changes", req, false)
}

// FullDump implements core.Transport.
func (s *Server) FullDump(ctx context.Context, req core.Request) ([]byte, error) {
	return s.serve(ctx, "full dump", req, true)
}

func (s *Server) serve(ctx context.Context, op string, req core.Request, full bool) ([]byte, error) {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}
	if s.token != "" && req.Token != s.token {
		return nil, &core.AuthError{Err: errors.New("invalid credential")}
	}

	var cr codec.ChangesRequest
	if err := json.Unmarshal(req.Body, &cr); err != nil {
		return nil, fmt.Errorf("%s: malformed request: %w", op, err)
	}
	s.requests = append(s.requests, cr)

	target, err := parseVersion(cr.TargetVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.apply(&cr); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp := codec.ChangesResponse{
		Nodes:              []json.RawMessage{},
		UpgradeRecommended: s.upgrade,
	}
	if s.resync && !full {
		s.resync = false
		resp.ForceFullResync = true
		resp.ToVersion = strconv.FormatInt(s.version, 10)
		return json.Marshal(resp)
	}

	var recs []*record
	for _, r := range s.nodes {
		if full {
			if !r.tombstone && !r.node.Deleted() {
				recs = append(recs, r)
			}
		} else if r.version > target {
			recs = append(recs, r)
		}
	}
	slices.SortFunc(recs, func(a, b *record) int {
		return cmp.Or(cmp.Compare(a.version, b.version), cmp.Compare(a.node.ID, b.node.ID))
	})
	to := s.version
	if s.pageSize > 0 && len(recs) > s.pageSize {
		recs = recs[:s.pageSize]
		to = recs[len(recs)-1].version
		resp.Truncated = true
	}
	for _, r := range recs {
		raw, err := s.encode(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		resp.Nodes = append(resp.Nodes, raw)
	}

	resp.UserInfo = &codec.UserInfo{}
	for _, id := range slices.Sorted(maps.Keys(s.labels)) {
		r := s.labels[id]
		if !full && r.version <= target {
			continue
		}
		raw, err := s.codec.EncodeLabel(r.label)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if r.clientID != "" {
			raw, err = patch(raw, map[string]string{"mainId": r.clientID, "serverId": id})
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		resp.UserInfo.Labels = append(resp.UserInfo.Labels, raw)
	}
	resp.ToVersion = strconv.FormatInt(to, 10)
	return json.Marshal(resp)
}

// apply stores pushed labels and nodes. A provisional ID seen before is an
// update of the entity it created, so a re-sent push is applied once.
func (s *Server) apply(cr *codec.ChangesRequest) error {
	resolve := func(id string) string {
		if to, ok := s.aliases[id]; ok {
			return to
		}
		return id
	}

	if cr.UserInfo != nil {
		for _, raw := range cr.UserInfo.Labels {
			d, err := s.codec.DecodeLabel(raw)
			if err != nil {
				return err
			}
			l := d.Label
			s.version++
			if r, ok := s.labels[resolve(l.ID)]; ok {
				l.ID = r.label.ID
				r.label, r.version = l, s.version
				continue
			}
			s.nextID++
			sid := fmt.Sprintf("lab-%d", s.nextID)
			s.aliases[l.ID] = sid
			s.labels[sid] = &labelRecord{label: l, version: s.version, clientID: l.ID}
			l.ID = sid
		}
	}

	for _, raw := range cr.Nodes {
		d, err := s.codec.Decode(raw)
		if err != nil {
			return err
		}
		n := d.Node
		n.ParentID = resolve(n.ParentID)
		n.SuperItemID = resolve(n.SuperItemID)
		for lid := range n.Labels {
			if to := resolve(lid); to != lid {
				delete(n.Labels, lid)
				n.Labels[to] = struct{}{}
			}
		}
		s.version++

		if r, ok := s.nodes[resolve(n.ID)]; ok {
			for _, f := range d.Fields {
				core.CopyField(r.node, n, f)
			}
			r.node.Version = s.version
			r.version = s.version
			continue
		}
		s.nextID++
		sid := fmt.Sprintf("srv-%d", s.nextID)
		s.aliases[n.ID] = sid
		s.nodes[sid] = &record{node: n, version: s.version, clientID: n.ID}
		n.ID = sid
		n.Version = s.version
	}
	return nil
}

func (s *Server) encode(r *record) (json.RawMessage, error) {
	raw, err := s.codec.Encode(r.node, nil, true)
	if err != nil {
		return nil, err
	}
	set := map[string]string{}
	if r.clientID != "" {
		set["id"] = r.clientID
		set["serverId"] = r.node.ID
	}
	if r.tombstone {
		set["parentId"] = ""
	}
	if len(set) == 0 {
		return raw, nil
	}
	return patch(raw, set)
}

// patch overwrites top-level string keys of a JSON object. Empty values
// delete the key.
func patch(raw json.RawMessage, set map[string]string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for k, v := range set {
		if v == "" {
			delete(obj, k)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = b
	}
	return json.Marshal(obj)
}

func parseVersion(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad target version %q: %w", v, err)
	}
	return n, nil
}
