package actions

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/deskflow/pkg/entitystore"
	"github.com/dukex/deskflow/pkg/mocks"
	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	ticket = models.EntityRef{Type: models.EntityTypeTicket, ID: "t-1"}
	frozen = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
)

type fixture struct {
	store      *entitystore.Memory
	classifier *mocks.MockClassifier
	notifier   *mocks.MockNotifier
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := entitystore.NewMemory()
	store.PutDepartment(&models.Department{ID: "d-billing", Name: "Billing"})
	store.PutDepartment(&models.Department{ID: "d-empty", Name: "Empty"})
	store.PutUser(&models.User{ID: "u-agent", Name: "Agent", Email: "agent@example.com", DepartmentID: "d-billing"})
	store.PutUser(&models.User{ID: "u-boss", Name: "Boss", Email: "boss@example.com", DepartmentID: "d-billing", Role: models.RoleManager})
	store.PutUser(&models.User{ID: "u-customer", Name: "Customer", Email: "customer@example.com"})
	store.Put(ticket, map[string]any{
		"subject":       "Refund not received",
		"description":   "I was charged twice",
		"priority_id":   2,
		"department_id": "d-billing",
		"created_by":    "u-customer",
	})

	f := &fixture{
		store:      store,
		classifier: &mocks.MockClassifier{},
		notifier:   &mocks.MockNotifier{},
	}

	f.dispatcher = NewDispatcher(Dependencies{
		Store:      store,
		Directory:  store,
		Classifier: f.classifier,
		Notifier:   f.notifier,
		Now:        func() time.Time { return frozen },
	})

	return f
}

func (f *fixture) field(t *testing.T, path string) any {
	t.Helper()

	value, err := f.store.Get(t.Context(), ticket, path)
	if errors.Is(err, protocol.ErrFieldNotFound) {
		return nil
	}

	require.NoError(t, err)

	return value
}

func TestDispatch_UnknownAction(t *testing.T) {
	f := newFixture(t)

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{
		Type:   "launch_rocket",
		Params: models.UnknownParams{},
	}, ticket)

	require.True(t, result.Failed())
	assert.ErrorIs(t, result.Err, ErrUnknownAction)
	assert.True(t, IsDispatchError(result.Err))
	assert.Contains(t, result.Err.Error(), "launch_rocket")
}

func TestDispatch_AssignTicket(t *testing.T) {
	tests := []struct {
		name     string
		params   models.AssignTicketParams
		want     string
		wantFail bool
	}{
		{"explicit user", models.AssignTicketParams{UserID: "u-boss"}, "u-boss", false},
		{"department member", models.AssignTicketParams{Department: "billing"}, "u-agent", false},
		{"unknown user falls back to department", models.AssignTicketParams{UserID: "ghost", Department: "Billing"}, "u-agent", false},
		{"empty department", models.AssignTicketParams{Department: "Empty"}, "", true},
		{"nothing resolves", models.AssignTicketParams{UserID: "ghost"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{Type: models.ActionAssignTicket, Params: tt.params}, ticket)

			if tt.wantFail {
				require.True(t, result.Failed())
				assert.ErrorIs(t, result.Err, ErrNoAssignee)
				assert.Nil(t, f.field(t, "assigned_to"))

				return
			}

			require.NoError(t, result.Err)
			assert.Equal(t, tt.want, result.Data["assigned_to"])
			assert.Equal(t, tt.want, f.field(t, "assigned_to"))
		})
	}
}

func TestDispatch_UpdateTicket(t *testing.T) {
	f := newFixture(t)

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{
		Type:   models.ActionUpdateTicket,
		Params: models.UpdateTicketParams{Fields: map[string]any{"status": "pending", "priority_id": 4}},
	}, ticket)

	require.NoError(t, result.Err)
	assert.Equal(t, []string{"priority_id", "status"}, result.Data["updated_fields"])
	assert.Equal(t, "pending", f.field(t, "status"))
	assert.Equal(t, 4, f.field(t, "priority_id"))
}

func TestDispatch_UpdateMissingEntity(t *testing.T) {
	f := newFixture(t)

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{
		Type:   models.ActionUpdateTicket,
		Params: models.UpdateTicketParams{Fields: map[string]any{"status": "pending"}},
	}, models.EntityRef{Type: models.EntityTypeTicket, ID: "missing"})

	require.True(t, result.Failed())

	var handlerErr *HandlerError
	require.ErrorAs(t, result.Err, &handlerErr)
	assert.ErrorIs(t, result.Err, protocol.ErrEntityNotFound)
}

func TestDispatch_SendEmailResolvesRecipients(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Update(t.Context(), ticket, map[string]any{"assigned_to": "u-agent"}))

	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Channel == ChannelEmail &&
			assert.ObjectsAreEqual([]string{"agent@example.com", "customer@example.com", "boss@example.com", "ops@example.com"}, n.Recipients) &&
			n.Entity == ticket &&
			n.RequestedAt.Equal(frozen)
	})).Return(nil).Once()

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{
		Type: models.ActionSendEmail,
		Params: models.NotificationParams{
			To:      []string{"assigned_user", "created_by", "department_managers", "ops@example.com", "agent@example.com", "nobody"},
			Subject: "Update",
			Message: "Your ticket was updated",
		},
	}, ticket)

	require.NoError(t, result.Err)
	assert.Equal(t, 4, result.Data["recipient_count"])
	f.notifier.AssertExpectations(t)
}

func TestDispatch_SendNotificationWithoutRecipients(t *testing.T) {
	f := newFixture(t)

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{
		Type:   models.ActionSendNotification,
		Params: models.NotificationParams{To: []string{"assigned_user"}, Message: "hello"},
	}, ticket)

	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Data["recipient_count"])
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestDispatch_AICategorize(t *testing.T) {
	tests := []struct {
		name           string
		confidence     float64
		wantPriority   any
		wantDepartment any
	}{
		{"high confidence applies", 0.95, 3, "d-billing"},
		{"low confidence leaves entity", 0.5, 2, "d-billing"},
		{"threshold is exclusive", 0.8, 2, "d-billing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.store.Update(t.Context(), ticket, map[string]any{"department_id": nil}))

			f.classifier.On("Categorize", mock.Anything, "Refund not received", "I was charged twice").
				Return(&protocol.Categorization{Category: "refund", Department: "Billing", Priority: "high", Confidence: tt.confidence}, nil)

			result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{Type: models.ActionAICategorize, Params: models.AICategorizeParams{}}, ticket)

			require.NoError(t, result.Err)
			assert.Equal(t, tt.wantPriority, f.field(t, "priority_id"))

			if tt.confidence > HighConfidence {
				assert.Equal(t, tt.wantDepartment, f.field(t, "department_id"))
				assert.Equal(t, true, result.Data["applied"])
			} else {
				assert.Nil(t, f.field(t, "department_id"))
				assert.Equal(t, false, result.Data["applied"])
			}
		})
	}
}

func TestDispatch_ClassifierUnavailable(t *testing.T) {
	f := newFixture(t)
	f.classifier.On("PredictEscalation", mock.Anything, mock.Anything).
		Return(0.0, protocol.ErrClassifierUnavailable)

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{Type: models.ActionAIPredictEscalation, Params: models.AIPredictEscalationParams{}}, ticket)

	require.True(t, result.Failed())
	assert.True(t, IsSuspended(result.Err))
	assert.ErrorIs(t, result.Err, protocol.ErrClassifierUnavailable)
}

func TestDispatch_AISuggestResponse(t *testing.T) {
	f := newFixture(t)
	f.classifier.On("SuggestResponses", mock.Anything, mock.MatchedBy(func(e *models.Entity) bool {
		return e.Ref == ticket
	})).Return([]string{"a", "b", "c"}, nil)

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{Type: models.ActionAISuggestResponse, Params: models.AISuggestResponseParams{Limit: 2}}, ticket)

	require.NoError(t, result.Err)
	assert.Equal(t, []string{"a", "b"}, result.Data["suggestions"])
}

func TestDispatch_CreateKnowledgeArticle(t *testing.T) {
	f := newFixture(t)

	result := f.dispatcher.Dispatch(t.Context(), models.ActionDescriptor{
		Type:   models.ActionCreateKnowledgeArticle,
		Params: models.KnowledgeArticleParams{Category: "billing"},
	}, ticket)

	require.NoError(t, result.Err)

	articleID, ok := result.Data["article_id"].(string)
	require.True(t, ok)

	article, err := f.store.Load(t.Context(), models.EntityRef{Type: models.EntityTypeKnowledgeArticle, ID: articleID})
	require.NoError(t, err)
	assert.Equal(t, "Refund not received", article.Fields["title"])
	assert.Equal(t, "I was charged twice", article.Fields["body"])
	assert.Equal(t, "t-1", article.Fields["source_ticket_id"])
}
