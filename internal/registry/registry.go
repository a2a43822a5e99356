// Package registry tracks session lifecycle state (building/ready/error) and
// dispatches builds onto a bounded worker pool, so a create call returns
// immediately while the materialization runs in the background.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/errs"
	"github.com/wessleyai/otelwarehouse/internal/eventbus"
	"github.com/wessleyai/otelwarehouse/internal/model"
	"github.com/wessleyai/otelwarehouse/internal/sessionbuilder"
)

// Builder is the capability the registry dispatches builds onto.
type Builder interface {
	BuildSession(ctx context.Context, id string, req model.SessionRequest) (model.Counts, model.Manifest, error)
	DropSession(id string) error
}

var _ Builder = (*sessionbuilder.Builder)(nil)

// Registry owns the in-memory session descriptor table and the bounded
// background-build worker pool. All descriptor reads and writes are
// serialized under mu, per the spec's single-lock shared-state policy.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*model.SessionDescriptor
	done     map[string]chan struct{} // closed when a session's build task resolves

	builder Builder
	sem     chan struct{}
	log     *slog.Logger
	bus     eventbus.Bus
}

// New builds a Registry with a background-build pool sized to maxConcurrent
// (GOMAXPROCS when maxConcurrent <= 0).
func New(builder Builder, maxConcurrent int, log *slog.Logger, bus eventbus.Bus) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	return &Registry{
		sessions: make(map[string]*model.SessionDescriptor),
		done:     make(map[string]chan struct{}),
		builder:  builder,
		sem:      make(chan struct{}, maxConcurrent),
		log:      log,
		bus:      bus,
	}
}

// Create allocates a session id, records a `building` descriptor, schedules
// the build in the background, and returns immediately.
func (r *Registry) Create(ctx context.Context, owner string, req model.SessionRequest) (*model.SessionDescriptor, error) {
	id, err := newID()
	if err != nil {
		return nil, errs.Wrap(errs.ErrSessionBuild, "registry.Create", err)
	}

	desc := &model.SessionDescriptor{
		ID:          id,
		Owner:       owner,
		Status:      model.SessionStatusBuilding,
		Services:    req.Services,
		SignalTypes: req.SignalTypes,
		Start:       req.Start,
		End:         req.End,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.sessions[id] = desc
	r.done[id] = make(chan struct{})
	r.mu.Unlock()

	go r.runBuild(id, req)

	return copyDescriptor(desc), nil
}

// runBuild executes one background build, gated by the semaphore, and never
// panics or returns an error out of the goroutine: failures land in the
// descriptor's error state instead.
func (r *Registry) runBuild(id string, req model.SessionRequest) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()
	defer func() {
		r.mu.Lock()
		if done, ok := r.done[id]; ok {
			close(done)
		}
		r.mu.Unlock()
	}()

	counts, manifest, err := r.builder.BuildSession(context.Background(), id, req)

	r.mu.Lock()
	desc, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return // deleted mid-build
	}
	if err != nil {
		desc.Status = model.SessionStatusError
		desc.ErrorMessage = err.Error()
	} else {
		desc.Status = model.SessionStatusReady
		desc.Counts = counts
		desc.Manifest = manifest
	}
	status := desc.Status
	errMsg := desc.ErrorMessage
	owner := desc.Owner
	r.mu.Unlock()

	if r.log != nil {
		if err != nil {
			r.log.Error("session build failed", "session_id", id, "err", err)
		} else {
			r.log.Info("session build ready", "session_id", id)
		}
	}

	subject := eventbus.SubjectSessionReady
	if status == model.SessionStatusError {
		subject = eventbus.SubjectSessionError
	}
	eventbus.Publish(context.Background(), r.bus, subject, eventbus.SessionTransition{
		SessionID: id, Owner: owner, Status: string(status), Message: errMsg,
	})
}

// List returns every session owned by owner.
func (r *Registry) List(owner string) []*model.SessionDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.SessionDescriptor
	for _, d := range r.sessions {
		if d.Owner == owner {
			out = append(out, copyDescriptor(d))
		}
	}
	return out
}

// Get returns the session descriptor for id, scoped to owner.
func (r *Registry) Get(id, owner string) (*model.SessionDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.sessions[id]
	if !ok || d.Owner != owner {
		return nil, errs.Wrap(errs.ErrSessionNotFound, "registry.Get", nil)
	}
	return copyDescriptor(d), nil
}

// Delete tears down the session's materialization and removes its
// descriptor. If the session is still building, Delete waits for the build
// task to resolve before tearing down, so a build never writes into a
// directory concurrently being removed.
func (r *Registry) Delete(id, owner string) error {
	r.mu.Lock()
	d, ok := r.sessions[id]
	if !ok || d.Owner != owner {
		r.mu.Unlock()
		return errs.Wrap(errs.ErrSessionNotFound, "registry.Delete", nil)
	}
	done := r.done[id]
	r.mu.Unlock()

	if done != nil {
		<-done
	}

	if err := r.builder.DropSession(id); err != nil {
		return errs.Wrap(errs.ErrSessionBuild, "registry.Delete", err)
	}

	r.mu.Lock()
	delete(r.sessions, id)
	delete(r.done, id)
	r.mu.Unlock()

	return nil
}

func copyDescriptor(d *model.SessionDescriptor) *model.SessionDescriptor {
	cp := *d
	return &cp
}

func newID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
