package chatstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inbox-service/internal/convkey"
	"inbox-service/internal/mocks"
	"inbox-service/internal/models"
)

func row(id, senderID, receiverID int, content string, read bool, at time.Time) models.MessageRow {
	return models.MessageRow{
		ID:           id,
		SenderID:     senderID,
		SenderName:   fmt.Sprintf("user-%d", senderID),
		ReceiverID:   receiverID,
		ReceiverName: fmt.Sprintf("user-%d", receiverID),
		Content:      content,
		IsRead:       read,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func expectQuery(b *mocks.BackendMock, from, to int, rows []models.MessageRow) *mock.Call {
	return b.On("Query", mock.Anything, mock.Anything, messagesView, mock.Anything, mock.Anything, from, to).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*[]models.MessageRow)
			*dest = append([]models.MessageRow(nil), rows...)
		}).
		Return(nil)
}

func TestFetchConversationsGroupsAndSorts(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Newest first, the way the backend returns them.
	expectQuery(b, 0, ConversationPageSize-1, []models.MessageRow{
		row(3, 9, 5, "how are you", false, base.Add(2*time.Minute)),
		row(2, 5, 7, "ping", false, base.Add(time.Minute)),
		row(1, 9, 5, "hi", true, base),
	}).Once()

	require.NoError(t, s.FetchConversations(context.Background()))

	convs := s.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "5-9", convs[0].Key)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, 3, convs[0].LastMessage.ID)
	assert.Equal(t, "5-7", convs[1].Key)
	assert.Equal(t, 0, convs[1].UnreadCount)
	assert.False(t, s.HasMoreConversations(), "short page means the backend is exhausted")
	b.AssertExpectations(t)
}

func TestFetchMoreConversationsStopsWhenExhausted(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expectQuery(b, 0, ConversationPageSize-1, []models.MessageRow{
		row(1, 9, 5, "hi", true, base),
	}).Once()

	require.NoError(t, s.FetchConversations(context.Background()))
	require.NoError(t, s.FetchMoreConversations(context.Background()))

	b.AssertNumberOfCalls(t, "Query", 1)
}

func TestFetchMoreConversationsExtendsWindow(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := make([]models.MessageRow, 0, ConversationPageSize)
	for i := 0; i < ConversationPageSize; i++ {
		other := 100 + i
		first = append(first, row(500-i, other, 5, "hey", true, base.Add(-time.Duration(i)*time.Minute)))
	}
	expectQuery(b, 0, ConversationPageSize-1, first).Once()
	expectQuery(b, ConversationPageSize, 2*ConversationPageSize-1, []models.MessageRow{
		row(10, 7, 5, "old", true, base.Add(-24*time.Hour)),
	}).Once()

	require.NoError(t, s.FetchConversations(context.Background()))
	require.True(t, s.HasMoreConversations())

	require.NoError(t, s.FetchMoreConversations(context.Background()))
	assert.False(t, s.HasMoreConversations())
	assert.Len(t, s.Conversations(), ConversationPageSize+1)
	b.AssertExpectations(t)
}

func TestFetchConversationsErrorKeepsCache(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expectQuery(b, 0, ConversationPageSize-1, []models.MessageRow{
		row(1, 9, 5, "hi", true, base),
	}).Once()
	b.On("Query", mock.Anything, mock.Anything, messagesView, mock.Anything, mock.Anything, 0, ConversationPageSize-1).
		Return(assert.AnError).Once()

	require.NoError(t, s.FetchConversations(context.Background()))
	before := s.Conversations()

	err := s.FetchConversations(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, before, s.Conversations(), "a failed refresh must not clobber the cache")
	assert.ErrorIs(t, s.LastError(), assert.AnError)
}

func TestFetchMessagesReplacesCacheAndMarksRead(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expectQuery(b, 0, MessagePageSize-1, []models.MessageRow{
		row(2, 9, 5, "second", false, base.Add(time.Minute)),
		row(1, 5, 9, "first", true, base),
	}).Once()
	b.On("Update", mock.Anything, messagesTable, mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, s.FetchMessages(context.Background(), "5-9", false))

	msgs := s.Messages("5-9")
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].ID, "cache is stored oldest first")
	assert.Equal(t, 2, msgs[1].ID)
	assert.True(t, msgs[1].IsRead, "opening the conversation reads it")
	assert.False(t, s.HasMoreMessages("5-9"))

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 0, convs[0].UnreadCount)
	b.AssertExpectations(t)
}

func TestFetchMessagesRequiresParticipation(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)

	err := s.FetchMessages(context.Background(), "3-7", false)
	require.ErrorIs(t, err, ErrNotParticipant)
	b.AssertNumberOfCalls(t, "Query", 0)
	assert.Empty(t, s.Messages("3-7"), "an outsider's fetch must not populate the cache")
	assert.Empty(t, s.Conversations())
}

func TestFetchMoreMessagesRequiresParticipation(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)

	err := s.FetchMoreMessages(context.Background(), "3-7")
	require.ErrorIs(t, err, ErrNotParticipant)
	b.AssertNumberOfCalls(t, "Query", 0)
}

func TestFetchMessagesMalformedKey(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)

	err := s.FetchMessages(context.Background(), "5-9-2", false)
	require.ErrorIs(t, err, convkey.ErrMalformedKey)
	b.AssertNumberOfCalls(t, "Query", 0)
}

func TestFetchMoreMessagesPrependsOlderPage(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := make([]models.MessageRow, 0, MessagePageSize)
	for i := 0; i < MessagePageSize; i++ {
		first = append(first, row(300-i, 5, 9, "m", true, base.Add(-time.Duration(i)*time.Minute)))
	}
	older := []models.MessageRow{
		row(120, 9, 5, "ancient", true, base.Add(-48*time.Hour)),
		row(110, 5, 9, "older still", true, base.Add(-72*time.Hour)),
	}

	expectQuery(b, 0, MessagePageSize-1, first).Once()
	b.On("Update", mock.Anything, messagesTable, mock.Anything, mock.Anything).Return(nil).Once()
	expectQuery(b, MessagePageSize, 2*MessagePageSize-1, older).Once()

	require.NoError(t, s.FetchMessages(context.Background(), "5-9", false))
	require.True(t, s.HasMoreMessages("5-9"))

	require.NoError(t, s.FetchMoreMessages(context.Background(), "5-9"))

	msgs := s.Messages("5-9")
	require.Len(t, msgs, MessagePageSize+2)
	assert.Equal(t, 110, msgs[0].ID, "older pages land in front")
	assert.Equal(t, 300, msgs[len(msgs)-1].ID)
	assert.False(t, s.HasMoreMessages("5-9"))
	b.AssertExpectations(t)
}

func TestSendBuildsConversation(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.On("Insert", mock.Anything, mock.Anything, messagesTable, mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*models.MessageRow)
			*dest = row(42, 5, 9, "hi", false, at)
			inserted := args.Get(3).(map[string]any)
			assert.Equal(t, 5, inserted["sender_id"])
			assert.Equal(t, 9, inserted["receiver_id"])
			assert.Equal(t, "hi", inserted["content"])
		}).
		Return(nil).Once()
	expectQuery(b, 0, 0, []models.MessageRow{row(42, 5, 9, "hi", false, at)}).Once()

	msg, err := s.Send(context.Background(), 9, "hi")
	require.NoError(t, err)
	assert.Equal(t, 42, msg.ID)
	assert.Equal(t, 5, msg.Sender.ID)

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "5-9", convs[0].Key)
	assert.Equal(t, [2]int{5, 9}, [2]int{convs[0].Participants[0].ID, convs[0].Participants[1].ID})
	assert.Equal(t, 0, convs[0].UnreadCount, "own messages are never unread")
	b.AssertExpectations(t)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)

	_, err := s.Send(context.Background(), 9, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	b.AssertNumberOfCalls(t, "Insert", 0)
}

func TestSendInsertErrorLeavesCacheIntact(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)

	b.On("Insert", mock.Anything, mock.Anything, messagesTable, mock.Anything).
		Return(assert.AnError).Once()

	_, err := s.Send(context.Background(), 9, "hi")
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, s.Conversations())
	assert.Empty(t, s.Messages("5-9"))
}

func TestSendFallsBackWhenEnrichFails(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.On("Insert", mock.Anything, mock.Anything, messagesTable, mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*models.MessageRow)
			*dest = models.MessageRow{ID: 42, SenderID: 5, ReceiverID: 9, Content: "hi", CreatedAt: at, UpdatedAt: at}
		}).
		Return(nil).Once()
	b.On("Query", mock.Anything, mock.Anything, messagesView, mock.Anything, mock.Anything, 0, 0).
		Return(assert.AnError).Once()

	msg, err := s.Send(context.Background(), 9, "hi")
	require.NoError(t, err, "an enrich failure must not fail the send")
	assert.Equal(t, 42, msg.ID)
	assert.Equal(t, "eve", msg.Sender.Name, "viewer summary fills the missing sender")
	require.Len(t, s.Conversations(), 1)
}

func TestMarkConversationReadRequiresParticipation(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)

	err := s.MarkConversationRead(context.Background(), "1-2")
	require.ErrorIs(t, err, ErrNotParticipant)
	b.AssertNumberOfCalls(t, "Update", 0)
}

func TestMarkConversationReadUpdatesRemote(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)

	var patch map[string]any
	b.On("Update", mock.Anything, messagesTable, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			patch = args.Get(3).(map[string]any)
		}).
		Return(nil).Once()

	require.NoError(t, s.MarkConversationRead(context.Background(), "5-9"))
	require.NotNil(t, patch)
	assert.Equal(t, true, patch["is_read"])
	b.AssertExpectations(t)
}

func TestOnChangeFiresAfterFetch(t *testing.T) {
	b := new(mocks.BackendMock)
	s := New(b, eve)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var seen [][]models.Conversation
	s.OnChange(func(convs []models.Conversation) {
		seen = append(seen, convs)
	})

	expectQuery(b, 0, ConversationPageSize-1, []models.MessageRow{
		row(1, 9, 5, "hi", true, base),
	}).Once()

	require.NoError(t, s.FetchConversations(context.Background()))
	require.NotEmpty(t, seen)
	assert.Len(t, seen[len(seen)-1], 1)
}

func TestFetchConversationsContextPassedThrough(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")

	b := new(mocks.BackendMock)
	s := New(b, eve)

	b.On("Query", mock.MatchedBy(func(got context.Context) bool {
		return got.Value(ctxKey{}) == "v"
	}), mock.Anything, messagesView, mock.Anything, mock.Anything, 0, ConversationPageSize-1).
		Return(errors.New("boom")).Once()

	require.Error(t, s.FetchConversations(ctx))
	b.AssertExpectations(t)
}
