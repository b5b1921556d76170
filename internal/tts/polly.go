package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, in *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// PollySynthesizer synthesizes MP3 speech with Amazon Polly.
type PollySynthesizer struct {
	api         pollyAPI
	engine      types.Engine
	credentials aws.CredentialsProvider
}

func NewPollySynthesizer(ctx context.Context, region, engine string) (*PollySynthesizer, error) {
	if strings.TrimSpace(region) == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p := newPollySynthesizer(polly.NewFromConfig(cfg), engine)
	p.credentials = cfg.Credentials
	return p, nil
}

func newPollySynthesizer(api pollyAPI, engine string) *PollySynthesizer {
	if strings.TrimSpace(engine) == "" {
		engine = string(types.EngineNeural)
	}
	return &PollySynthesizer{api: api, engine: types.Engine(engine)}
}

func (p *PollySynthesizer) Name() string { return "polly" }

// HasCredentials reports whether the AWS credential chain resolves.
func (p *PollySynthesizer) HasCredentials(ctx context.Context) bool {
	if p.credentials == nil {
		return false
	}
	creds, err := p.credentials.Retrieve(ctx)
	return err == nil && creds.HasKeys()
}

func (p *PollySynthesizer) Synthesize(ctx context.Context, req Request) (Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	in := &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatMp3,
		VoiceId:      types.VoiceId(req.VoiceID),
		Engine:       p.engine,
	}
	if req.Plain {
		in.Text = aws.String(text)
		in.TextType = types.TextTypeText
	} else {
		ssml, err := prosodySSML(text, req.Speed)
		if err != nil {
			return Audio{}, err
		}
		in.Text = aws.String(ssml)
		in.TextType = types.TextTypeSsml
	}

	out, err := p.api.SynthesizeSpeech(ctx, in)
	if err != nil {
		return Audio{}, fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()
	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return Audio{}, fmt.Errorf("polly read audio: %w", err)
	}
	return Audio{Data: data, Format: "mp3", ContentType: ContentTypeMP3}, nil
}

func (p *PollySynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	var voices []Voice
	in := &polly.DescribeVoicesInput{Engine: p.engine}
	for {
		out, err := p.api.DescribeVoices(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("polly describe voices: %w", err)
		}
		for _, v := range out.Voices {
			voices = append(voices, Voice{
				ID:           string(v.Id),
				Name:         aws.ToString(v.Name),
				LanguageName: aws.ToString(v.LanguageName),
				LanguageCode: string(v.LanguageCode),
			})
		}
		if aws.ToString(out.NextToken) == "" {
			return voices, nil
		}
		in.NextToken = out.NextToken
	}
}

// prosodySSML wraps text in a prosody rate element; text is XML-escaped.
func prosodySSML(text string, speed int) (string, error) {
	var b bytes.Buffer
	b.WriteString(`<speak><prosody rate="`)
	b.WriteString(strconv.Itoa(normalizeSpeed(speed)))
	b.WriteString(`%">`)
	if err := xml.EscapeText(&b, []byte(text)); err != nil {
		return "", fmt.Errorf("escape ssml: %w", err)
	}
	b.WriteString(`</prosody></speak>`)
	return b.String(), nil
}
