package events

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/atmx/settlement-engine/internal/model"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	args := m.Called(ctx, rs[0])
	return kgo.ProduceResults{{Record: rs[0], Err: args.Error(0)}}
}

func (m *mockProducer) Close() {
	m.Called()
}

func TestKafkaPublisher_Publish(t *testing.T) {
	prod := &mockProducer{}
	var sent *kgo.Record
	prod.On("ProduceSync", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*kgo.Record) }).
		Return(nil)

	pub := newKafkaPublisher(prod, "bets.settled", nil)
	bet := model.Bet{ID: "bet-1", UserID: "alice", GameType: model.GameDice, ServerSeed: "secret"}
	require.NoError(t, pub.Publish(context.Background(), bet))

	prod.AssertExpectations(t)
	require.NotNil(t, sent)
	assert.Equal(t, "bets.settled", sent.Topic)
	assert.Equal(t, []byte("alice"), sent.Key)

	var ev BetSettled
	require.NoError(t, json.Unmarshal(sent.Value, &ev))
	assert.Equal(t, "bet_settled", ev.Type)
	assert.Equal(t, "bet-1", ev.Bet.ID)
	assert.Empty(t, ev.Bet.ServerSeed)
}

func TestKafkaPublisher_DeliveryErrorIsReturned(t *testing.T) {
	prod := &mockProducer{}
	broker := errors.New("broker down")
	prod.On("ProduceSync", mock.Anything, mock.Anything).Return(broker)

	pub := newKafkaPublisher(prod, "bets.settled", nil)
	err := pub.Publish(context.Background(), model.Bet{ID: "bet-2", UserID: "bob"})
	assert.ErrorIs(t, err, broker)
}

func TestKafkaPublisher_Close(t *testing.T) {
	prod := &mockProducer{}
	prod.On("Close").Return()
	newKafkaPublisher(prod, "t", nil).Close()
	prod.AssertExpectations(t)
}

func TestTask(t *testing.T) {
	prod := &mockProducer{}
	prod.On("ProduceSync", mock.Anything, mock.Anything).Return(nil)
	pub := newKafkaPublisher(prod, "t", nil)

	task := Task(pub, model.Bet{ID: "bet-3", UserID: "carol"})
	assert.Equal(t, "events.publish", task.Name)
	assert.Equal(t, "bet-3", task.BetID)
	require.NoError(t, task.Run(context.Background()))
	prod.AssertNumberOfCalls(t, "ProduceSync", 1)

	assert.NoError(t, Task(Nop{}, model.Bet{}).Run(context.Background()))
}

// droppingBroker accepts connections and closes them straight away.
func droppingBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

func TestKafkaPublisher_UndeliveredEventFailsTask(t *testing.T) {
	pub, err := NewKafkaPublisher([]string{droppingBroker(t)}, "bets.settled", nil)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = Task(pub, model.Bet{ID: "bet-4", UserID: "dave"}).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond,
		"publish waits for delivery until the task deadline")
	assert.Less(t, time.Since(start), 10*time.Second)
}
