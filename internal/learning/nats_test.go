package learning

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(server.Shutdown)
	return server
}

func TestConsumerProcessesCloseEvents(t *testing.T) {
	f := newFixture(t)
	ctx := learningCtx(t, "acme")
	f.closeConversation(t, ctx, "conv-1", "Qual o horário?", "Das 9h às 18h.")

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	consumer := NewConsumer(nc, f.extractor, f.supervisor, "", nil)
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	require.NoError(t, Publish(nc, "", CloseEvent{
		TenantID:       "acme",
		ConversationID: "conv-1",
	}))

	hash := dedupHash(normalizeTrigger("Qual o horário?"))
	require.Eventually(t, func() bool {
		c, err := candidateByHash(ctx, f.db, "acme", hash)
		return err == nil && c.EvidenceCount == 1
	}, 3*time.Second, 20*time.Millisecond)

	// Redelivery of the same event changes nothing.
	require.NoError(t, Publish(nc, "", CloseEvent{
		TenantID:       "acme",
		ConversationID: "conv-1",
	}))
	require.Never(t, func() bool {
		c, err := candidateByHash(ctx, f.db, "acme", hash)
		return err == nil && c.EvidenceCount > 1
	}, 500*time.Millisecond, 50*time.Millisecond)
}

func TestConsumerIgnoresMalformedEvents(t *testing.T) {
	f := newFixture(t)

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	consumer := NewConsumer(nc, f.extractor, f.supervisor, "", nil)
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	require.NoError(t, nc.Publish(DefaultSubject, []byte("not json")))
	require.NoError(t, nc.Flush())

	// The consumer stays subscribed after a bad payload.
	assert.True(t, nc.IsConnected())
}
