package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/repositories"
)

// GoogleSpeechToText opens live transcription sessions against Google
// Cloud Speech-to-Text. Alternate vendor; credentials resolve through
// the standard application-default mechanism.
type GoogleSpeechToText struct {
	logger *zap.Logger
}

func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

func (g *GoogleSpeechToText) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriptionStream, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening streaming recognize: %w", err)
	}

	encoding, err := audioEncoding(config.Encoding)
	if err != nil {
		stream.CloseSend()
		client.Close()
		return nil, err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    config.Language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("sending streaming config: %w", err)
	}

	s := &googleStream{
		client: client,
		stream: stream,
		logger: g.logger,
		events: make(chan repositories.StreamEvent, 32),
	}
	go s.pump()
	return s, nil
}

type googleStream struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	logger *zap.Logger
	events chan repositories.StreamEvent

	mu     sync.Mutex
	closed bool
}

func (s *googleStream) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("transcription stream is closed")
	}
	if len(data) == 0 {
		return nil
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	})
}

func (s *googleStream) Events() <-chan repositories.StreamEvent {
	return s.events
}

func (s *googleStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.stream.CloseSend()
	s.client.Close()
	return err
}

func (s *googleStream) pump() {
	defer close(s.events)

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.events <- repositories.StreamEvent{
					Kind: repositories.StreamEventError,
					Err:  err.Error(),
				}
			}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			s.events <- repositories.StreamEvent{
				Kind:       repositories.StreamEventTranscript,
				Text:       alt.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: float64(alt.Confidence),
			}
		}
	}
}

// audioEncoding maps wire encoding names onto the vendor enum.
func audioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "LINEAR16", "WAV":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
