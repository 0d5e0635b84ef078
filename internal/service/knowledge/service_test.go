package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gita-chat/backend/internal/config"
)

type fakeClient struct {
	calls int
	input *bedrockagentruntime.RetrieveAndGenerateStreamInput
	out   *bedrockagentruntime.RetrieveAndGenerateStreamOutput
	err   error
}

func (f *fakeClient) RetrieveAndGenerateStream(_ context.Context, params *bedrockagentruntime.RetrieveAndGenerateStreamInput, _ ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateStreamOutput, error) {
	f.calls++
	f.input = params
	return f.out, f.err
}

type fakeSource struct {
	events chan types.RetrieveAndGenerateStreamResponseOutput
	err    error
	closed atomic.Bool
}

func newFakeSource(events ...types.RetrieveAndGenerateStreamResponseOutput) *fakeSource {
	ch := make(chan types.RetrieveAndGenerateStreamResponseOutput, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &fakeSource{events: ch}
}

func (f *fakeSource) Events() <-chan types.RetrieveAndGenerateStreamResponseOutput { return f.events }
func (f *fakeSource) Close() error                                                 { f.closed.Store(true); return nil }
func (f *fakeSource) Err() error                                                   { return f.err }

func testConfig() config.KnowledgeBaseConfig {
	return config.KnowledgeBaseConfig{
		Region:          "us-east-1",
		KnowledgeBaseID: "KB123",
		ModelID:         "anthropic.claude-3-sonnet-20240229-v1:0",
	}
}

func drain(t *testing.T, svcStream *schema.StreamReader[Record]) ([]Record, error) {
	t.Helper()
	defer svcStream.Close()
	var out []Record
	for {
		rec, err := svcStream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func TestBuildInput(t *testing.T) {
	svc := &Service{cfg: testConfig()}

	input := svc.buildInput(Request{Query: "What is dharma?"})
	require.NotNil(t, input.Input)
	assert.Equal(t, "What is dharma?", aws.ToString(input.Input.Text))
	assert.Nil(t, input.SessionId)

	rag := input.RetrieveAndGenerateConfiguration
	require.NotNil(t, rag)
	assert.Equal(t, types.RetrieveAndGenerateTypeKnowledgeBase, rag.Type)
	require.NotNil(t, rag.KnowledgeBaseConfiguration)
	assert.Equal(t, "KB123", aws.ToString(rag.KnowledgeBaseConfiguration.KnowledgeBaseId))
	assert.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", aws.ToString(rag.KnowledgeBaseConfiguration.ModelArn))
	assert.Equal(t, int32(5), aws.ToInt32(rag.KnowledgeBaseConfiguration.RetrievalConfiguration.VectorSearchConfiguration.NumberOfResults))

	withSession := svc.buildInput(Request{Query: "q", SessionID: "up-1"})
	assert.Equal(t, "up-1", aws.ToString(withSession.SessionId))
}

func TestRetrieveAndGenerateStreamCallError(t *testing.T) {
	client := &fakeClient{err: errors.New("access denied")}
	svc := &Service{client: client, cfg: testConfig()}

	_, err := svc.RetrieveAndGenerateStream(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, 1, client.calls)
}

func TestRetrieveAndGenerateStreamMissingStream(t *testing.T) {
	client := &fakeClient{out: &bedrockagentruntime.RetrieveAndGenerateStreamOutput{SessionId: aws.String("up")}}
	svc := &Service{client: client, cfg: testConfig()}

	_, err := svc.RetrieveAndGenerateStream(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestPumpTranslatesEvents(t *testing.T) {
	src := newFakeSource(
		&types.RetrieveAndGenerateStreamResponseOutputMemberOutput{Value: types.RetrieveAndGenerateOutputEvent{Text: aws.String("Om ")}},
		&types.RetrieveAndGenerateStreamResponseOutputMemberCitation{Value: types.CitationEvent{
			RetrievedReferences: []types.RetrievedReference{
				{Location: &types.RetrievalResultLocation{S3Location: &types.RetrievalResultS3Location{Uri: aws.String("s3://gita/ch2.pdf")}}},
				{},
			},
		}},
		&types.RetrieveAndGenerateStreamResponseOutputMemberGuardrail{},
		&types.RetrieveAndGenerateStreamResponseOutputMemberOutput{Value: types.RetrieveAndGenerateOutputEvent{Text: aws.String("Shanti")}},
	)

	records, err := drain(t, pump(context.Background(), src))
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, KindTextDelta, Classify(records[0]).Kind)
	assert.Equal(t, "Om ", Classify(records[0]).Text)

	meta := Classify(records[1])
	assert.Equal(t, KindRetrievalMetadata, meta.Kind)
	var summary retrievalSummary
	require.NoError(t, json.Unmarshal(meta.Metadata, &summary))
	assert.Equal(t, 2, summary.References)
	assert.Equal(t, []string{"s3://gita/ch2.pdf"}, summary.Sources)

	assert.Equal(t, KindUnknown, Classify(records[2]).Kind)
	assert.Equal(t, "Shanti", Classify(records[3]).Text)

	assert.Eventually(t, func() bool { return src.closed.Load() }, time.Second, 10*time.Millisecond)
}

func TestPumpDeliversSourceError(t *testing.T) {
	src := newFakeSource(
		&types.RetrieveAndGenerateStreamResponseOutputMemberOutput{Value: types.RetrieveAndGenerateOutputEvent{Text: aws.String("partial")}},
	)
	src.err = errors.New("throttled")

	records, err := drain(t, pump(context.Background(), src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Len(t, records, 1)
}

func TestPumpStopsOnContextCancel(t *testing.T) {
	src := &fakeSource{events: make(chan types.RetrieveAndGenerateStreamResponseOutput)}
	ctx, cancel := context.WithCancel(context.Background())
	reader := pump(ctx, src)
	cancel()

	_, err := drain(t, reader)
	assert.ErrorIs(t, err, context.Canceled)
}
