package workflow

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/eventbus"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/clientstore"
	platformerrors "github.com/Leochrono/dinero-tikee-sub001/internal/platform/errors"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/httpapi"
)

// CreditAPI is the remote application contract consumed by the controller.
type CreditAPI interface {
	CreateApplication(ctx context.Context, accessToken string, payload httpapi.ApplicationPayload) (httpapi.ApplicationResult, error)
	UpdateApplication(ctx context.Context, accessToken, id string, update httpapi.ApplicationUpdate) (httpapi.ApplicationResult, error)
	UploadDocument(ctx context.Context, accessToken, id, docType, filename string, content io.Reader) (httpapi.DocumentMetadata, error)
}

// Session is the slice of the session controller the workflow consults.
type Session interface {
	Snapshot() model.Snapshot
	AccessToken() (string, bool)
}

// Options configure a workflow Controller.
type Options struct {
	Store   clientstore.Store
	API     CreditAPI
	Session Session
	Logger  model.Logger
	Bus     eventbus.Bus
}

// Controller owns the credit-application draft: its forward-only status
// machine, its persistence across reloads, and the single-slot deferred
// submission that survives an authentication interruption. Every mutation
// persists the draft before returning so a reload never loses input.
type Controller struct {
	store   clientstore.Store
	api     CreditAPI
	session Session
	logger  model.Logger
	bus     eventbus.Bus

	mu    sync.Mutex
	draft *Draft
}

// NewController wires a workflow Controller and subscribes it to the
// session's authenticated transitions for deferred-action replay.
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.API == nil || opts.Session == nil || opts.Logger == nil {
		return nil, platformerrors.New(
			platformerrors.KindBootstrap, "workflow.new", "missing controller dependency")
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Get()
	}
	c := &Controller{
		store:   opts.Store,
		api:     opts.API,
		session: opts.Session,
		logger:  opts.Logger,
		bus:     bus,
	}
	if err := bus.Subscribe(eventbus.EventSessionAuthenticated, c.onAuthenticated); err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindBootstrap, "workflow.new", "subscribing to session events", err)
	}
	return c, nil
}

// Snapshot returns a copy of the current draft, or nil when none is active.
func (c *Controller) Snapshot() *Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.clone()
}

// StartDraft opens a fresh application draft from the collected form input.
// While unauthenticated the draft still exists locally and is persisted; the
// remote create call is performed once submission goes through.
func (c *Controller) StartDraft(ctx context.Context, form FormData) (Outcome, error) {
	const op = "workflow.start-draft"

	if err := validateForm(form); err != nil {
		return "", err
	}

	now := time.Now()
	draft := &Draft{
		ClientRef: uuid.NewString(),
		Form:      form,
		Status:    StatusDrafting,
		Documents: map[string]DocumentFile{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	c.mu.Lock()
	c.draft = draft
	persistErr := c.persistDraftLocked(ctx)
	c.mu.Unlock()
	if persistErr != nil {
		return "", platformerrors.Wrap(platformerrors.KindStorage, op, "persisting draft", persistErr)
	}

	token, ok := c.session.AccessToken()
	if !ok {
		c.publishUpdated()
		return OutcomeCompleted, nil
	}

	// Promote to a server-issued id right away when a session exists.
	result, err := c.api.CreateApplication(ctx, token, form.payload())
	if err != nil {
		// The local draft stands; creation is retried on submission.
		c.logger.Warn("workflow: eager application create failed: %v", err)
		c.publishUpdated()
		return OutcomeCompleted, nil
	}

	c.mu.Lock()
	if c.draft != nil && c.draft.ClientRef == draft.ClientRef {
		c.draft.ID = result.ID
		c.draft.UpdatedAt = time.Now()
		_ = c.persistDraftLocked(ctx)
	}
	c.mu.Unlock()
	c.publishUpdated()
	return OutcomeCompleted, nil
}

// SelectInstitution records the chosen institution. A later selection
// overwrites an earlier one without reverting status.
func (c *Controller) SelectInstitution(ctx context.Context, institutionID string) error {
	const op = "workflow.select-institution"
	if institutionID == "" {
		return platformerrors.New(platformerrors.KindValidation, op, "institution id is required")
	}

	c.mu.Lock()
	if c.draft == nil {
		c.mu.Unlock()
		return platformerrors.New(platformerrors.KindConflict, op, "no active draft")
	}
	if c.draft.Status.Terminal() {
		c.mu.Unlock()
		return platformerrors.New(platformerrors.KindConflict, op, "draft already settled")
	}
	c.draft.SelectedInstitutionID = institutionID
	if c.draft.Status == StatusDrafting {
		c.draft.Status = StatusInstitutionSelected
	}
	c.draft.UpdatedAt = time.Now()
	persistErr := c.persistDraftLocked(ctx)
	remoteID := c.draft.ID
	c.mu.Unlock()
	if persistErr != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, op, "persisting draft", persistErr)
	}

	if token, ok := c.session.AccessToken(); ok && remoteID != "" {
		update := httpapi.ApplicationUpdate{InstitutionID: institutionID}
		if _, err := c.api.UpdateApplication(ctx, token, remoteID, update); err != nil {
			return err
		}
	}
	c.publishUpdated()
	return nil
}

// AttachDocument places a file into one of the required document slots.
// Upload happens later, during submission.
func (c *Controller) AttachDocument(ctx context.Context, slot, filename string, content []byte) error {
	const op = "workflow.attach-document"

	if !validSlot(slot) {
		return platformerrors.New(platformerrors.KindValidation, op, "unknown document slot "+slot)
	}
	if filename == "" || len(content) == 0 {
		return platformerrors.New(platformerrors.KindValidation, op, "document file is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return platformerrors.New(platformerrors.KindConflict, op, "no active draft")
	}
	if c.draft.Status.Terminal() {
		return platformerrors.New(platformerrors.KindConflict, op, "draft already settled")
	}
	if c.draft.Documents == nil {
		c.draft.Documents = map[string]DocumentFile{}
	}
	c.draft.Documents[slot] = DocumentFile{Filename: filename, Content: content}
	c.draft.UpdatedAt = time.Now()
	if err := c.persistDraftLocked(ctx); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, op, "persisting draft", err)
	}
	return nil
}

// SubmitDocuments submits the application with its attached documents.
// Incomplete document slots fail locally before any remote call. Without a
// session the intent is deferred and replayed after the next login.
func (c *Controller) SubmitDocuments(ctx context.Context) (Outcome, error) {
	const op = "workflow.submit-documents"

	c.mu.Lock()
	if c.draft == nil {
		c.mu.Unlock()
		return "", platformerrors.New(platformerrors.KindConflict, op, "no active draft")
	}
	if c.draft.Status.Terminal() {
		c.mu.Unlock()
		return "", platformerrors.New(platformerrors.KindConflict, op, "draft already settled")
	}
	if missing := missingSlots(c.draft.Documents); len(missing) > 0 {
		c.mu.Unlock()
		return "", platformerrors.New(
			platformerrors.KindValidation, op, "missing documents: "+joinSlots(missing))
	}
	form := c.draft.Form
	c.mu.Unlock()

	token, ok := c.session.AccessToken()
	if !ok {
		if err := c.deferSubmission(ctx, form); err != nil {
			return "", err
		}
		return OutcomeAuthRequired, nil
	}

	if err := c.submitRemote(ctx, token); err != nil {
		return "", err
	}
	c.publishUpdated()
	return OutcomeCompleted, nil
}

// deferSubmission persists the draft and writes the single-slot deferred
// action, overwriting any earlier one.
func (c *Controller) deferSubmission(ctx context.Context, form FormData) error {
	const op = "workflow.defer"

	c.mu.Lock()
	persistErr := c.persistDraftLocked(ctx)
	c.mu.Unlock()
	if persistErr != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, op, "persisting draft", persistErr)
	}

	action := DeferredAction{
		Kind:      KindSubmitApplication,
		Payload:   form,
		CreatedAt: time.Now(),
	}
	if err := c.saveDeferred(ctx, action); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, op, "persisting deferred action", err)
	}

	c.bus.Publish(eventbus.EventWorkflowDeferred, eventbus.WorkflowEventData{
		Status:   string(StatusDrafting),
		Deferred: true,
	})
	return nil
}

// submitRemote runs the full remote submission: create the application if
// it has no server id yet, upload every document, then confirm submission.
func (c *Controller) submitRemote(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.draft == nil {
		c.mu.Unlock()
		return platformerrors.New(platformerrors.KindConflict, "workflow.submit", "no active draft")
	}
	draft := c.draft.clone()
	c.mu.Unlock()

	if draft.ID == "" {
		result, err := c.api.CreateApplication(ctx, token, draft.Form.payload())
		if err != nil {
			return err
		}
		draft.ID = result.ID
		c.mu.Lock()
		if c.draft != nil && c.draft.ClientRef == draft.ClientRef {
			c.draft.ID = result.ID
			_ = c.persistDraftLocked(ctx)
		}
		c.mu.Unlock()
	}

	for _, slot := range RequiredSlots {
		doc := draft.Documents[slot]
		_, err := c.api.UploadDocument(ctx, token, draft.ID, slot, doc.Filename, bytes.NewReader(doc.Content))
		if err != nil {
			return err
		}
	}

	update := httpapi.ApplicationUpdate{Status: string(StatusDocumentsSubmitted)}
	if draft.SelectedInstitutionID != "" {
		update.InstitutionID = draft.SelectedInstitutionID
	}
	result, err := c.api.UpdateApplication(ctx, token, draft.ID, update)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil || c.draft.ClientRef != draft.ClientRef {
		return nil
	}
	status := StatusDocumentsSubmitted
	if result.Status != "" {
		if remote := Status(result.Status); canAdvance(c.draft.Status, remote) {
			status = remote
		}
	}
	c.draft.Status = status
	c.draft.UpdatedAt = time.Now()
	return c.persistDraftLocked(ctx)
}

// AdvanceStatus applies a status reported by the remote service. Anything
// that is not a forward step is rejected without mutating the draft.
func (c *Controller) AdvanceStatus(ctx context.Context, next Status) error {
	const op = "workflow.advance-status"

	c.mu.Lock()
	if c.draft == nil {
		c.mu.Unlock()
		return platformerrors.New(platformerrors.KindConflict, op, "no active draft")
	}
	if !canAdvance(c.draft.Status, next) {
		from := c.draft.Status
		c.mu.Unlock()
		return platformerrors.New(
			platformerrors.KindConflict, op,
			string(from)+" -> "+string(next)+" is not a forward transition")
	}
	c.draft.Status = next
	c.draft.UpdatedAt = time.Now()
	persistErr := c.persistDraftLocked(ctx)
	c.mu.Unlock()
	if persistErr != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, op, "persisting draft", persistErr)
	}
	c.publishUpdated()
	return nil
}

// ResetWorkflow discards the draft and everything persisted for it. This is
// the only backward move in the status machine.
func (c *Controller) ResetWorkflow(ctx context.Context) error {
	c.mu.Lock()
	c.draft = nil
	c.mu.Unlock()

	_ = c.store.Delete(ctx, clientstore.RecordDraft)
	_ = c.store.Delete(ctx, clientstore.RecordDeferred)
	c.bus.Publish(eventbus.EventWorkflowUpdated, eventbus.WorkflowEventData{
		Status: string(StatusDrafting),
	})
	return nil
}

// ResumeFromStorage loads a persisted non-terminal draft at startup so the
// user continues where they left off. A terminal or unreadable record is
// cleared instead.
func (c *Controller) ResumeFromStorage(ctx context.Context) error {
	draft, ok := c.loadDraft(ctx)
	if !ok {
		return nil
	}
	if draft.Status.Terminal() {
		_ = c.store.Delete(ctx, clientstore.RecordDraft)
		return nil
	}

	c.mu.Lock()
	c.draft = draft
	c.mu.Unlock()
	c.publishUpdated()
	return nil
}

// onAuthenticated replays the pending deferred action, if any, exactly
// once. The action is consumed before execution so a second authenticated
// transition, or a failing replay, can never run it again.
func (c *Controller) onAuthenticated(eventbus.SessionEventData) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	action, ok := c.loadDeferred(ctx)
	if !ok {
		return
	}
	_ = c.store.Delete(ctx, clientstore.RecordDeferred)

	// The session may already be gone again by the time this handler runs.
	token, live := c.session.AccessToken()
	if !live {
		c.logger.Info("workflow: session closed before deferred replay, action dropped")
		return
	}
	if action.Kind != KindSubmitApplication {
		c.logger.Warn("workflow: unknown deferred action kind %q, dropped", action.Kind)
		return
	}

	c.mu.Lock()
	if c.draft == nil {
		// Replay after a reload: rebuild the draft from the saved payload.
		now := time.Now()
		c.draft = &Draft{
			ClientRef: uuid.NewString(),
			Form:      action.Payload,
			Status:    StatusDrafting,
			Documents: map[string]DocumentFile{},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	missing := missingSlots(c.draft.Documents)
	c.mu.Unlock()

	if len(missing) > 0 {
		c.logger.Info("workflow: deferred replay needs documents re-attached: %s", joinSlots(missing))
		c.bus.Publish(eventbus.EventNotification, eventbus.NotificationData{
			Level:   "warn",
			Message: "Your application was restored. Please re-attach your documents and submit again.",
		})
		return
	}

	err := c.submitRemote(ctx, token)
	c.bus.Publish(eventbus.EventWorkflowReplayed, eventbus.WorkflowEventData{
		DraftID: c.draftID(),
		Status:  string(c.draftStatus()),
	})
	if err != nil {
		c.logger.Warn("workflow: deferred replay failed: %v", err)
		c.bus.Publish(eventbus.EventNotification, eventbus.NotificationData{
			Level:   "error",
			Message: "We could not finish submitting your application. Please try again.",
		})
		return
	}
	c.publishUpdated()
}

func (c *Controller) draftID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return ""
	}
	return c.draft.ID
}

func (c *Controller) draftStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return StatusDrafting
	}
	return c.draft.Status
}

func (c *Controller) publishUpdated() {
	c.mu.Lock()
	data := eventbus.WorkflowEventData{Status: string(StatusDrafting)}
	if c.draft != nil {
		data.DraftID = c.draft.ID
		data.Status = string(c.draft.Status)
	}
	c.mu.Unlock()
	c.bus.Publish(eventbus.EventWorkflowUpdated, data)
}

func validateForm(form FormData) error {
	const op = "workflow.validate"
	switch {
	case form.Amount <= 0:
		return platformerrors.New(platformerrors.KindValidation, op, "amount must be positive")
	case form.TermMonths <= 0:
		return platformerrors.New(platformerrors.KindValidation, op, "term must be positive")
	case form.MonthlyIncome <= 0:
		return platformerrors.New(platformerrors.KindValidation, op, "income must be positive")
	case !form.Consent:
		return platformerrors.New(platformerrors.KindValidation, op, "consent is required")
	}
	return nil
}

func validSlot(slot string) bool {
	for _, s := range RequiredSlots {
		if s == slot {
			return true
		}
	}
	return false
}

func missingSlots(docs map[string]DocumentFile) []string {
	var missing []string
	for _, slot := range RequiredSlots {
		if _, ok := docs[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	return missing
}

func joinSlots(slots []string) string {
	return strings.Join(slots, ", ")
}
