package events

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/config"
)

func stamped(e ChangeEvent, id string) ChangeEvent {
	e.EventID = id
	e.Time = 1700000000
	return e
}

func TestSQLiteSinkAppendsAndReads(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteSink(ctx, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer sink.Close()

	team := core.NodeRef{Type: "Team", Code: "platform"}
	person := core.NodeRef{Type: "Person", Code: "jane"}
	pair := Pair(CreatedRelationship, actor, team, "HAS_TECH_LEAD", core.Outgoing, person)

	require.NoError(t, sink.Write(ctx, []ChangeEvent{
		stamped(NodeEvent(CreatedNode, actor, team), "e1"),
		stamped(pair[0], "e2"),
		stamped(pair[1], "e3"),
	}))
	// replays are ignored
	require.NoError(t, sink.Write(ctx, []ChangeEvent{stamped(NodeEvent(CreatedNode, actor, team), "e1")}))

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e3", got[0].EventID)
	assert.Equal(t, "e1", got[2].EventID)
	require.NotNil(t, got[0].Relationship)
	assert.Equal(t, core.Incoming, got[0].Relationship.Direction)
	assert.Equal(t, "person/jane", got[0].Key)

	limited, err := sink.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteSinkReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	sink, err := NewSQLiteSink(ctx, path)
	require.NoError(t, err)
	require.NoError(t, sink.Write(ctx, []ChangeEvent{
		stamped(NodeEvent(DeletedNode, actor, core.NodeRef{Type: "Team", Code: "platform"}), "e1"),
	}))
	require.NoError(t, sink.Close())

	sink, err = NewSQLiteSink(ctx, path)
	require.NoError(t, err)
	defer sink.Close()

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, DeletedNode, got[0].Event)
}

type fakeKinesis struct {
	input  *kinesis.PutRecordsInput
	output *kinesis.PutRecordsOutput
	err    error
}

func (f *fakeKinesis) PutRecords(_ context.Context, params *kinesis.PutRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return &kinesis.PutRecordsOutput{FailedRecordCount: aws.Int32(0)}, nil
}

func TestKinesisSinkWrite(t *testing.T) {
	client := &fakeKinesis{}
	sink := NewKinesisSinkWithClient(client, "change-request-api")

	e := stamped(NodeEvent(CreatedNode, actor, core.NodeRef{Type: "Team", Code: "platform"}), "e1")
	require.NoError(t, sink.Write(context.Background(), []ChangeEvent{e}))

	require.NotNil(t, client.input)
	assert.Equal(t, "change-request-api", aws.ToString(client.input.StreamName))
	require.Len(t, client.input.Records, 1)
	assert.Equal(t, "Team/platform", aws.ToString(client.input.Records[0].PartitionKey))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(client.input.Records[0].Data, &decoded))
	assert.Equal(t, "CREATED_NODE", decoded["event"])
	assert.Equal(t, "CREATE", decoded["action"])
	assert.Equal(t, "platform", decoded["code"])
	assert.Equal(t, "e1", decoded["eventId"])
	assert.NotContains(t, decoded, "relationship")
}

func TestKinesisSinkPartialFailure(t *testing.T) {
	client := &fakeKinesis{output: &kinesis.PutRecordsOutput{
		FailedRecordCount: aws.Int32(1),
		Records: []types.PutRecordsResultEntry{
			{SequenceNumber: aws.String("1")},
			{ErrorCode: aws.String("ProvisionedThroughputExceededException"), ErrorMessage: aws.String("slow down")},
		},
	}}
	sink := NewKinesisSinkWithClient(client, "stream")

	ref := core.NodeRef{Type: "Team", Code: "platform"}
	err := sink.Write(context.Background(), []ChangeEvent{
		NodeEvent(UpdatedNode, actor, ref),
		NodeEvent(UpdatedNode, actor, ref),
	})

	var partial *FailedRecordsError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 2, partial.Total)
	assert.Contains(t, partial.Reason, "ProvisionedThroughputExceededException")
}

func TestKinesisSinkCallFailure(t *testing.T) {
	sink := NewKinesisSinkWithClient(&fakeKinesis{err: errors.New("no route")}, "stream")
	err := sink.Write(context.Background(), []ChangeEvent{NodeEvent(UpdatedNode, actor, core.NodeRef{Type: "Team", Code: "x"})})
	assert.ErrorContains(t, err, "no route")
}

func TestNewSinkSelection(t *testing.T) {
	cfg := &config.Config{}
	sink, err := NewSink(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Write(context.Background(), []ChangeEvent{
		NodeEvent(UpdatedNode, actor, core.NodeRef{Type: "Team", Code: "platform"}),
	}))

	cfg.Events.LogPath = filepath.Join(t.TempDir(), "events.db")
	sink, err = NewSink(cfg, zap.NewNop())
	require.NoError(t, err)
	defer sink.Close()
	assert.Equal(t, "sqlite", sink.Name())
}
