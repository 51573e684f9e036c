package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/itchan-dev/pairchat/client/internal/loop"
	"github.com/itchan-dev/pairchat/shared/domain"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
	"github.com/itchan-dev/pairchat/shared/logger"
	"github.com/itchan-dev/pairchat/shared/metrics"
)

// Store is the mutation side of the backend. A returned record, when non-nil, is the
// authoritative row and is merged like a change-feed event.
type Store interface {
	InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error)
	UpdateMessage(ctx context.Context, id domain.MessageId, patch domain.MessagePatch) (*domain.Message, error)
}

type Kind int

const (
	KindSend Kind = iota
	KindEdit
	KindDelete
	KindReact
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindEdit:
		return "edit"
	case KindDelete:
		return "delete"
	case KindReact:
		return "react"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Mutation is a local intent. Id names the target; for KindSend it is the optional
// client-generated id of the new message (one is generated when empty).
type Mutation struct {
	Kind        Kind
	Id          domain.MessageId
	Content     string
	ReplyTo     *domain.MessageId
	Attachments []domain.Attachment
	Emoji       domain.Emoji
}

// request is a backend write that can be re-issued after a failure.
type request struct {
	kind   Kind
	insert *domain.NewMessage
	patch  *domain.MessagePatch
}

// outbox holds the writes for one message in issue order. Only the head is ever in flight,
// and a failed head stalls the rest until Retry.
type outbox struct {
	reqs     []request
	inflight bool
	failed   bool
}

// Reconciler owns the canonical message log. All methods must run on the update queue.
type Reconciler struct {
	user     domain.Username
	store    Store
	sched    loop.Scheduler
	runner   loop.Runner
	validate *validator.Validate
	log      *slog.Logger

	messages []domain.Message
	outboxes map[domain.MessageId]*outbox
	onChange func([]domain.Message)
}

func New(user domain.Username, store Store, sched loop.Scheduler, runner loop.Runner) *Reconciler {
	return &Reconciler{
		user:     user,
		store:    store,
		sched:    sched,
		runner:   runner,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.For("reconciler"),
		outboxes: make(map[domain.MessageId]*outbox),
	}
}

// OnChange registers the callback invoked with the new log after every change.
func (r *Reconciler) OnChange(f func([]domain.Message)) {
	r.onChange = f
}

// Messages returns the current log. Callers must treat it as read-only.
func (r *Reconciler) Messages() []domain.Message {
	return r.messages
}

func (r *Reconciler) Get(id domain.MessageId) (domain.Message, bool) {
	idx := IndexOf(r.messages, id)
	if idx < 0 {
		return domain.Message{}, false
	}
	return r.messages[idx], true
}

// Resolve follows a reply reference through the current log.
func (r *Reconciler) Resolve(replyTo *domain.MessageId) (Reply, bool) {
	return Resolve(r.messages, replyTo)
}

// Load replaces the log with a server snapshot.
func (r *Reconciler) Load(records []domain.Message) {
	r.messages = Load(records)
	for _, rec := range records {
		r.confirmed(rec.Id)
	}
	r.log.Info("message log loaded", "count", len(r.messages))
	r.changed()
}

// ApplyChangeEvent merges an authoritative record; the server copy always wins.
func (r *Reconciler) ApplyChangeEvent(rec domain.Message) {
	rec.Delivery = domain.DeliveryConfirmed
	r.messages = Apply(r.messages, rec)
	r.confirmed(rec.Id)
	metrics.ChangeEventsApplied.Inc()
	r.changed()
}

// ResyncFrom merges a fresh snapshot record by record, keeping optimistic entries the
// snapshot does not know about yet.
func (r *Reconciler) ResyncFrom(records []domain.Message) {
	next := r.messages
	for _, rec := range records {
		rec.Delivery = domain.DeliveryConfirmed
		next = Apply(next, rec)
	}
	r.messages = next
	for _, rec := range records {
		r.confirmed(rec.Id)
	}
	r.log.Info("message log resynced", "count", len(records))
	r.changed()
}

// ApplyLocalMutation applies m optimistically and issues the backend write without
// waiting for it. It returns the id of the affected message.
func (r *Reconciler) ApplyLocalMutation(m Mutation) (domain.MessageId, error) {
	switch m.Kind {
	case KindSend:
		return r.Send(m.Id, m.Content, m.ReplyTo, m.Attachments)
	case KindEdit:
		return m.Id, r.Edit(m.Id, m.Content)
	case KindDelete:
		return m.Id, r.Delete(m.Id)
	case KindReact:
		return m.Id, r.React(m.Id, m.Emoji)
	default:
		return "", &internal_errors.ValidationError{Message: "unknown mutation " + m.Kind.String()}
	}
}

// Send inserts a new message authored by the local user. The content is trimmed; a send
// with neither text nor attachments is rejected.
func (r *Reconciler) Send(id domain.MessageId, content string, replyTo *domain.MessageId, attachments []domain.Attachment) (domain.MessageId, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return "", &internal_errors.ValidationError{Message: "message has no content"}
	}
	if id == "" {
		id = uuid.NewString()
	}
	if attachments == nil {
		attachments = []domain.Attachment{}
	}

	insert := domain.NewMessage{
		Id:          id,
		Author:      r.user,
		ReplyTo:     replyTo,
		Attachments: attachments,
	}
	if content != "" {
		insert.Content = &content
	}
	if err := r.validate.Struct(&insert); err != nil {
		return "", &internal_errors.ValidationError{Message: err.Error()}
	}

	if _, queued := r.outboxes[id]; queued {
		return "", &internal_errors.ValidationError{Message: "message " + id + " was already sent"}
	}

	optimistic := domain.Message{
		Id:          id,
		Author:      r.user,
		Content:     content,
		Attachments: attachments,
		Reactions:   domain.Reactions{},
		ReplyTo:     replyTo,
		CreatedAt:   r.sched.Now(),
		Delivery:    domain.DeliveryPending,
	}
	r.messages = Apply(r.messages, optimistic)
	metrics.LocalMutations.WithLabelValues(KindSend.String()).Inc()
	r.changed()

	r.issue(id, request{kind: KindSend, insert: &insert})
	return id, nil
}

// Edit replaces the text of one of the local user's messages.
func (r *Reconciler) Edit(id domain.MessageId, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &internal_errors.ValidationError{Message: "edited text is empty"}
	}
	msg, err := r.ownTarget(id)
	if err != nil {
		return err
	}
	if msg.IsDeleted() {
		return &internal_errors.ValidationError{Message: "message is deleted"}
	}

	now := r.sched.Now()
	msg.Content = content
	msg.EditedAt = &now
	r.local(KindEdit, msg)

	r.issue(id, request{kind: KindEdit, patch: &domain.MessagePatch{Content: &content, EditedAt: &now}})
	return nil
}

// Delete tombstones one of the local user's messages. The entry keeps its slot.
func (r *Reconciler) Delete(id domain.MessageId) error {
	msg, err := r.ownTarget(id)
	if err != nil {
		return err
	}

	now := r.sched.Now()
	r.local(KindDelete, Tombstone(msg, now))

	r.issue(id, request{kind: KindDelete, patch: &domain.MessagePatch{Deleted: &now}})
	return nil
}

// React toggles the local user's reaction with emoji on any message.
func (r *Reconciler) React(id domain.MessageId, emoji domain.Emoji) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return &internal_errors.ValidationError{Message: "empty emoji"}
	}
	msg, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("react %s: %w", id, internal_errors.NotFound)
	}

	msg = msg.Clone()
	msg.Reactions = msg.Reactions.Toggle(emoji, r.user)
	r.local(KindReact, msg)

	r.issue(id, request{kind: KindReact, patch: &domain.MessagePatch{Reactions: msg.Reactions.Clone()}})
	return nil
}

// Retry re-issues the stalled writes for id, starting with the one that failed.
func (r *Reconciler) Retry(id domain.MessageId) error {
	ob, ok := r.outboxes[id]
	if !ok || !ob.failed {
		return fmt.Errorf("retry %s: %w", id, internal_errors.NotFound)
	}
	ob.failed = false
	r.setDelivery(id, domain.DeliveryPending)
	r.dispatch(id, ob)
	return nil
}

// Failed lists ids whose writes are stalled on a failure, in log order.
func (r *Reconciler) Failed() []domain.MessageId {
	ids := []domain.MessageId{}
	for _, m := range r.messages {
		if ob, ok := r.outboxes[m.Id]; ok && ob.failed {
			ids = append(ids, m.Id)
		}
	}
	return ids
}

func (r *Reconciler) ownTarget(id domain.MessageId) (domain.Message, error) {
	msg, ok := r.Get(id)
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, internal_errors.NotFound)
	}
	if msg.Author != r.user {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, internal_errors.NotOwner)
	}
	return msg.Clone(), nil
}

func (r *Reconciler) local(kind Kind, msg domain.Message) {
	msg.Delivery = domain.DeliveryPending
	if ob, ok := r.outboxes[msg.Id]; ok && ob.failed {
		msg.Delivery = domain.DeliveryFailed
	}
	r.messages = Apply(r.messages, msg)
	metrics.LocalMutations.WithLabelValues(kind.String()).Inc()
	r.changed()
}

// issue queues req behind the writes already outstanding for id. A reaction waiting behind
// another one replaces it, since each carries the full reaction map.
func (r *Reconciler) issue(id domain.MessageId, req request) {
	ob, ok := r.outboxes[id]
	if !ok {
		ob = &outbox{}
		r.outboxes[id] = ob
	}
	last := len(ob.reqs) - 1
	if req.kind == KindReact && last >= 0 && ob.reqs[last].kind == KindReact && (last > 0 || !ob.inflight) {
		ob.reqs[last] = req
	} else {
		ob.reqs = append(ob.reqs, req)
	}
	if !ob.inflight && !ob.failed {
		r.dispatch(id, ob)
	}
}

func (r *Reconciler) dispatch(id domain.MessageId, ob *outbox) {
	req := ob.reqs[0]
	ob.inflight = true
	r.runner.Go(func(ctx context.Context) func() {
		var rec *domain.Message
		var err error
		if req.insert != nil {
			rec, err = r.store.InsertMessage(ctx, *req.insert)
		} else {
			rec, err = r.store.UpdateMessage(ctx, id, *req.patch)
		}
		return func() { r.settle(id, req, rec, err) }
	})
}

// settle runs on the queue once the backend answered. The optimistic state is never
// rolled back on failure; the entry is flagged so the user can retry.
func (r *Reconciler) settle(id domain.MessageId, req request, rec *domain.Message, err error) {
	ob, ok := r.outboxes[id]
	if ok {
		ob.inflight = false
	}
	if err != nil {
		err = internal_errors.Persist(req.kind.String(), err)
		metrics.PersistFailures.WithLabelValues(req.kind.String()).Inc()
		r.log.Warn("backend write failed, keeping optimistic state",
			"message_id", id, "kind", req.kind.String(), "error", err)
		if ok {
			ob.failed = true
		}
		r.setDelivery(id, domain.DeliveryFailed)
		return
	}

	if ok {
		ob.reqs = ob.reqs[1:]
		if len(ob.reqs) == 0 {
			delete(r.outboxes, id)
		} else {
			r.log.Debug("backend write accepted, sending next", "message_id", id, "queued", len(ob.reqs))
			r.dispatch(id, ob)
			return
		}
	}
	if rec != nil {
		r.ApplyChangeEvent(*rec)
		return
	}
	// no representation returned; the change feed echo will confirm the entry
	r.log.Debug("backend write accepted", "message_id", id, "kind", req.kind.String())
}

// confirmed handles an authoritative record for id. A stalled outbox drops its failed
// head: an insert is known to have landed, and a patch is superseded because the server
// copy wins. Writes queued behind it resume.
func (r *Reconciler) confirmed(id domain.MessageId) {
	ob, ok := r.outboxes[id]
	if !ok || !ob.failed {
		return
	}
	ob.failed = false
	ob.reqs = ob.reqs[1:]
	if len(ob.reqs) == 0 {
		delete(r.outboxes, id)
		return
	}
	r.setDelivery(id, domain.DeliveryPending)
	r.dispatch(id, ob)
}

func (r *Reconciler) setDelivery(id domain.MessageId, d domain.Delivery) {
	idx := IndexOf(r.messages, id)
	if idx < 0 {
		return
	}
	next := make([]domain.Message, len(r.messages))
	copy(next, r.messages)
	next[idx].Delivery = d
	r.messages = next
	r.changed()
}

func (r *Reconciler) changed() {
	if r.onChange != nil {
		r.onChange(r.messages)
	}
}
