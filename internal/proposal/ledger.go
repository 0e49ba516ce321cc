package proposal

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/animus-coder/codevet/internal/textdiff"
)

// Writer performs the actual file mutation for an applied proposal.
type Writer interface {
	Write(path, content string, op Operation) error
}

// Reader loads current file contents for previews.
type Reader interface {
	ReadFile(path string) (string, error)
}

// DefaultRetention is how long applied and rejected proposals stay queryable.
const DefaultRetention = 24 * time.Hour

// TransitionFunc observes every state change.
type TransitionFunc func(p Proposal, from State)

// Ledger owns proposals and serializes transitions per target path.
type Ledger struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	live      map[string]string
	pathLocks map[string]*pathLock

	writer       Writer
	reader       Reader
	clock        func() time.Time
	newID        func() string
	logger       *zap.Logger
	onTransition TransitionFunc
	retention    time.Duration
}

// pathLock is held by every operation in flight on a path and dropped when the last one ends.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReader sets the source of current contents for Preview.
func WithReader(r Reader) Option { return func(l *Ledger) { l.reader = r } }

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option { return func(l *Ledger) { l.clock = clock } }

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(gen func() string) Option { return func(l *Ledger) { l.newID = gen } }

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option { return func(l *Ledger) { l.logger = logger } }

// WithRetention sets how long terminal proposals are kept. Zero keeps them forever.
func WithRetention(d time.Duration) Option { return func(l *Ledger) { l.retention = d } }

// WithTransitionHook registers a callback for state changes.
func WithTransitionHook(fn TransitionFunc) Option { return func(l *Ledger) { l.onTransition = fn } }

// NewLedger builds an empty ledger writing through w.
func NewLedger(w Writer, opts ...Option) *Ledger {
	l := &Ledger{
		proposals: make(map[string]*Proposal),
		live:      make(map[string]string),
		pathLocks: make(map[string]*pathLock),
		writer:    w,
		retention: DefaultRetention,
		clock:     time.Now,
		newID:     func() string { return uuid.NewString() },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Create records a new proposal. A live proposal for the same path is rejected and reported
// through a *ConflictError; the returned proposal is valid in that case.
func (l *Ledger) Create(path, content string, op Operation) (Proposal, error) {
	target, err := NormalizePath(path)
	if err != nil {
		return Proposal{}, err
	}
	if _, err := ParseOperation(string(op)); err != nil {
		return Proposal{}, err
	}

	unlock := l.lockPath(target)
	defer unlock()

	now := l.clock()
	l.pruneBefore(now)
	p := &Proposal{
		ID:         l.newID(),
		TargetPath: target,
		Content:    content,
		Operation:  op,
		State:      StateProposed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	l.mu.Lock()
	var conflict *ConflictError
	var supersededFrom State
	if prevID, ok := l.live[target]; ok {
		if prev := l.proposals[prevID]; prev != nil && !prev.State.Terminal() {
			from := prev.State
			prev.State = StateRejected
			prev.Content = ""
			prev.armed = false
			prev.SupersededBy = p.ID
			prev.UpdatedAt = now
			conflict = &ConflictError{Superseded: *prev, By: p.ID}
			supersededFrom = from
		}
	}
	l.proposals[p.ID] = p
	l.live[target] = p.ID
	out := *p
	l.mu.Unlock()

	l.logger.Info("proposal created",
		zap.String("id", out.ID),
		zap.String("path", out.TargetPath),
		zap.String("operation", string(out.Operation)),
	)
	l.notify(out, "")
	if conflict != nil {
		l.notify(conflict.Superseded, supersededFrom)
		l.logger.Warn("proposal superseded",
			zap.String("id", conflict.Superseded.ID),
			zap.String("by", conflict.By),
			zap.String("path", target),
		)
		return out, conflict
	}
	return out, nil
}

// Approve arms a proposal for Apply. Approving an approved proposal re-arms it.
func (l *Ledger) Approve(id string) (Proposal, error) {
	return l.transition(id, func(p *Proposal) error {
		switch p.State {
		case StateProposed, StateApproved:
			p.State = StateApproved
			p.armed = true
			return nil
		default:
			return fmt.Errorf("%w: approve from %s", ErrInvalidTransition, p.State)
		}
	})
}

// Reject discards a proposal. Terminal.
func (l *Ledger) Reject(id string) (Proposal, error) {
	return l.transition(id, func(p *Proposal) error {
		switch p.State {
		case StateProposed, StateApproved:
			p.State = StateRejected
			p.Content = ""
			p.armed = false
			if l.live[p.TargetPath] == p.ID {
				delete(l.live, p.TargetPath)
			}
			return nil
		default:
			return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, p.State)
		}
	})
}

// Apply writes an approved, armed proposal. A failed write reverts it to approved and disarms it;
// the caller must approve again before retrying.
func (l *Ledger) Apply(id string) (Proposal, error) {
	p, unlock, err := l.lockProposal(id)
	if err != nil {
		return Proposal{}, err
	}
	defer unlock()

	l.mu.Lock()
	if p.State != StateApproved || !p.armed {
		state, armed := p.State, p.armed
		l.mu.Unlock()
		if state == StateApproved && !armed {
			return Proposal{}, fmt.Errorf("%w: proposal %s must be approved again after a failed apply", ErrInvalidTransition, id)
		}
		return Proposal{}, fmt.Errorf("%w: apply from %s", ErrInvalidTransition, state)
	}
	p.State = StateApplied
	p.UpdatedAt = l.clock()
	path, content, op := p.TargetPath, p.Content, p.Operation
	l.mu.Unlock()

	var writeErr error
	if l.writer == nil {
		writeErr = errors.New("no writer configured")
	} else {
		writeErr = l.writer.Write(path, content, op)
	}

	l.mu.Lock()
	if writeErr != nil {
		p.State = StateApproved
		p.armed = false
		p.LastError = writeErr.Error()
	} else {
		p.armed = false
		p.LastError = ""
		if l.live[path] == p.ID {
			delete(l.live, path)
		}
	}
	p.UpdatedAt = l.clock()
	out := *p
	l.mu.Unlock()

	if writeErr != nil {
		l.logger.Warn("proposal apply failed", zap.String("id", id), zap.String("path", path), zap.Error(writeErr))
		l.notify(out, StateApplied)
		return out, fmt.Errorf("%w: %s: %v", ErrWriteFailure, path, writeErr)
	}
	l.logger.Info("proposal applied", zap.String("id", id), zap.String("path", path))
	l.notify(out, StateApproved)
	return out, nil
}

// Get returns a snapshot of a proposal.
func (l *Ledger) Get(id string) (Proposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *p, nil
}

// List returns snapshots of all proposals, oldest first.
func (l *Ledger) List() []Proposal {
	l.mu.Lock()
	out := make([]Proposal, 0, len(l.proposals))
	for _, p := range l.proposals {
		out = append(out, *p)
	}
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Preview diffs the current file against the proposed content.
func (l *Ledger) Preview(id string) (string, error) {
	p, err := l.Get(id)
	if err != nil {
		return "", err
	}
	if p.State == StateRejected {
		return "", fmt.Errorf("%w: proposal %s was rejected", ErrInvalidTransition, id)
	}
	var current string
	if l.reader != nil {
		current, err = l.reader.ReadFile(p.TargetPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read %s: %w", p.TargetPath, err)
		}
	}
	return textdiff.Render(p.TargetPath, textdiff.Lines(current, p.Content)), nil
}

// transition runs apply under the path lock and l.mu.
func (l *Ledger) transition(id string, apply func(*Proposal) error) (Proposal, error) {
	p, unlock, err := l.lockProposal(id)
	if err != nil {
		return Proposal{}, err
	}
	defer unlock()

	l.mu.Lock()
	from := p.State
	if err := apply(p); err != nil {
		l.mu.Unlock()
		return Proposal{}, err
	}
	p.UpdatedAt = l.clock()
	out := *p
	l.mu.Unlock()

	l.logger.Info("proposal transition",
		zap.String("id", out.ID),
		zap.String("path", out.TargetPath),
		zap.String("from", string(from)),
		zap.String("to", string(out.State)),
	)
	l.notify(out, from)
	return out, nil
}

// lockProposal finds a proposal and holds its path lock.
func (l *Ledger) lockProposal(id string) (*Proposal, func(), error) {
	l.mu.Lock()
	p, ok := l.proposals[id]
	l.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, l.lockPath(p.TargetPath), nil
}

func (l *Ledger) lockPath(path string) func() {
	l.mu.Lock()
	pl, ok := l.pathLocks[path]
	if !ok {
		pl = &pathLock{}
		l.pathLocks[path] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.pathLocks, path)
		}
		l.mu.Unlock()
	}
}

// Prune drops applied and rejected proposals older than the retention window and returns how
// many were removed.
func (l *Ledger) Prune() int {
	return l.pruneBefore(l.clock())
}

func (l *Ledger) pruneBefore(now time.Time) int {
	if l.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-l.retention)

	l.mu.Lock()
	var removed []string
	for id, p := range l.proposals {
		if !p.State.Terminal() || !p.UpdatedAt.Before(cutoff) {
			continue
		}
		if l.live[p.TargetPath] == id {
			delete(l.live, p.TargetPath)
		}
		delete(l.proposals, id)
		removed = append(removed, id)
	}
	l.mu.Unlock()

	if len(removed) > 0 {
		l.logger.Debug("pruned proposals", zap.Int("count", len(removed)))
	}
	return len(removed)
}

func (l *Ledger) notify(p Proposal, from State) {
	if l.onTransition != nil {
		l.onTransition(p, from)
	}
}
