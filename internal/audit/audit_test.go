package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
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
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func stageEvent(d plan.Decision) StageEvent {
	return StageEvent{
		RunID:      "run-1",
		PlanningID: "pl-1",
		Record: plan.StageRecord{
			Stage:      plan.StageSkeleton,
			Name:       plan.StageSkeleton.Name(),
			Gate:       plan.GateDecision{Decision: d, Reason: "r"},
			Validation: plan.NewValidationResult(),
		},
	}
}

func TestNATSSink_Publishes(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	stages, err := nc.SubscribeSync(SubjectStage)
	require.NoError(t, err)
	runs, err := nc.SubscribeSync(SubjectRun)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	sink, err := NewNATSSink(nc)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sink.RecordStage(ctx, stageEvent(plan.DecisionWarn)))
	require.NoError(t, sink.RecordRun(ctx, plan.RunReport{RunID: "run-1", Decision: plan.DecisionHalt, HaltedAt: plan.StageSkeleton}))

	msg, err := stages.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var ev StageEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, plan.DecisionWarn, ev.Record.Gate.Decision)

	msg, err = runs.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var rep plan.RunReport
	require.NoError(t, json.Unmarshal(msg.Data, &rep))
	assert.Equal(t, plan.StageSkeleton, rep.HaltedAt)
}

func TestNATSSink_CustomSubjects(t *testing.T) {
	server := startTestNATSServer(t)
	sink, nc, err := Connect(server.ClientURL(), WithSubjects("audit.s", "audit.r"))
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("audit.s")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	require.NoError(t, sink.RecordStage(context.Background(), stageEvent(plan.DecisionPass)))
	_, err = sub.NextMsg(2 * time.Second)
	assert.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, []byte) error { return errors.New("disconnected") }

func TestMulti_JoinsErrors(t *testing.T) {
	mem := &Memory{}
	bad, err := NewNATSSink(failingPublisher{})
	require.NoError(t, err)

	m := Multi{mem, bad, Nop{}}
	err = m.RecordStage(context.Background(), stageEvent(plan.DecisionPass))
	assert.ErrorContains(t, err, "disconnected")
	assert.Len(t, mem.Stages(), 1, "healthy sinks still receive the event")

	err = m.RecordRun(context.Background(), plan.RunReport{RunID: "r"})
	assert.Error(t, err)
	assert.Len(t, mem.Runs(), 1)

	_, err = NewNATSSink(nil)
	assert.Error(t, err)
}

func TestLogSink_Levels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	ctx := context.Background()

	require.NoError(t, sink.RecordStage(ctx, stageEvent(plan.DecisionPass)))
	require.NoError(t, sink.RecordStage(ctx, stageEvent(plan.DecisionWarn)))
	require.NoError(t, sink.RecordStage(ctx, stageEvent(plan.DecisionHalt)))
	require.NoError(t, sink.RecordRun(ctx, plan.RunReport{RunID: "run-1", Decision: plan.DecisionHalt, HaltedAt: plan.StageSkeleton}))

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
	assert.Equal(t, "S2", entries[2].ContextMap()["pipeline.stage"])
	assert.Equal(t, "S2", entries[3].ContextMap()["halted_at"])
}
