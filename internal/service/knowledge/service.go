package knowledge

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gita-chat/backend/internal/config"
)

// NumberOfResults is the retrieval width used for every query.
const NumberOfResults int32 = 5

// ErrNoStream is returned when the upstream response carries no event stream.
var ErrNoStream = errors.New("no stream in response from knowledge base")

// Request is a single retrieve-and-generate call.
type Request struct {
	Query     string
	SessionID string
}

// Response carries the upstream session id and the record stream. The caller
// owns Stream and must Close it.
type Response struct {
	SessionID string
	Stream    *schema.StreamReader[Record]
}

type streamAPI interface {
	RetrieveAndGenerateStream(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateStreamInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateStreamOutput, error)
}

type eventSource interface {
	Events() <-chan types.RetrieveAndGenerateStreamResponseOutput
	Close() error
	Err() error
}

// Service wraps the Bedrock Agent Runtime knowledge base API.
type Service struct {
	client streamAPI
	cfg    config.KnowledgeBaseConfig
}

// NewService creates a Service from the AWS configuration.
func NewService(ctx context.Context, cfg config.KnowledgeBaseConfig) (*Service, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.StaticCredentials() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	return &Service{
		client: bedrockagentruntime.NewFromConfig(awsCfg),
		cfg:    cfg,
	}, nil
}

// RetrieveAndGenerateStream starts a knowledge base query and returns the record stream.
func (s *Service) RetrieveAndGenerateStream(ctx context.Context, req Request) (*Response, error) {
	out, err := s.client.RetrieveAndGenerateStream(ctx, s.buildInput(req))
	if err != nil {
		return nil, errors.Wrap(err, "retrieve and generate stream")
	}

	stream := out.GetStream()
	if stream == nil {
		return nil, ErrNoStream
	}

	log.Debug().
		Str("knowledge_base", s.cfg.KnowledgeBaseID).
		Str("upstream_session", aws.ToString(out.SessionId)).
		Msg("knowledge base stream opened")

	return &Response{
		SessionID: aws.ToString(out.SessionId),
		Stream:    pump(ctx, stream),
	}, nil
}

func (s *Service) buildInput(req Request) *bedrockagentruntime.RetrieveAndGenerateStreamInput {
	input := &bedrockagentruntime.RetrieveAndGenerateStreamInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(req.Query)},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(s.cfg.KnowledgeBaseID),
				ModelArn:        aws.String(s.cfg.ModelID),
				RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
					VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
						NumberOfResults: aws.Int32(NumberOfResults),
					},
				},
			},
		},
	}
	if req.SessionID != "" {
		input.SessionId = aws.String(req.SessionID)
	}
	return input
}

// pump copies SDK events into an eino stream until the source ends, the reader
// is closed or ctx is done. A source error is delivered as the final Recv error.
func pump(ctx context.Context, src eventSource) *schema.StreamReader[Record] {
	reader, writer := schema.Pipe[Record](8)

	go func() {
		defer writer.Close()
		defer src.Close()

		events := src.Events()
		for {
			select {
			case <-ctx.Done():
				writer.Send(Record{}, ctx.Err())
				return
			case ev, ok := <-events:
				if !ok {
					if err := src.Err(); err != nil {
						writer.Send(Record{}, errors.Wrap(err, "knowledge base stream"))
					}
					return
				}
				if closed := writer.Send(recordFromEvent(ev), nil); closed {
					return
				}
			}
		}
	}()

	return reader
}

type retrievalSummary struct {
	References int      `json:"references"`
	Sources    []string `json:"sources,omitempty"`
}

func recordFromEvent(ev types.RetrieveAndGenerateStreamResponseOutput) Record {
	switch v := ev.(type) {
	case *types.RetrieveAndGenerateStreamResponseOutputMemberOutput:
		return Record{Output: &OutputPart{Text: v.Value.Text}}
	case *types.RetrieveAndGenerateStreamResponseOutputMemberCitation:
		summary := retrievalSummary{References: len(v.Value.RetrievedReferences)}
		for _, ref := range v.Value.RetrievedReferences {
			if src := referenceSource(ref.Location); src != "" {
				summary.Sources = append(summary.Sources, src)
			}
		}
		raw, err := json.Marshal(summary)
		if err != nil {
			raw = json.RawMessage(`{}`)
		}
		return Record{RetrievalResult: raw}
	case *types.RetrieveAndGenerateStreamResponseOutputMemberGuardrail:
		raw, _ := json.Marshal(string(v.Value.Action))
		return Record{Other: map[string]json.RawMessage{"guardrail": raw}}
	case *types.UnknownUnionMember:
		return Record{Other: map[string]json.RawMessage{v.Tag: json.RawMessage(`null`)}}
	default:
		return Record{}
	}
}

func referenceSource(loc *types.RetrievalResultLocation) string {
	if loc == nil {
		return ""
	}
	if loc.S3Location != nil && loc.S3Location.Uri != nil {
		return *loc.S3Location.Uri
	}
	if loc.WebLocation != nil && loc.WebLocation.Url != nil {
		return *loc.WebLocation.Url
	}
	return string(loc.Type)
}
