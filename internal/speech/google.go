package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	defaultGoogleTTSURL = "https://translate.google.com/translate_tts"
	googleMaxChars      = 200
	googleUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// GoogleOptions configures a GoogleSynthesizer.
type GoogleOptions struct {
	BaseURL  string
	Language string
	Client   *http.Client
}

// GoogleSynthesizer uses the Google Translate speech endpoint.
type GoogleSynthesizer struct {
	baseURL  string
	language string
	client   *http.Client
}

// NewGoogle creates a GoogleSynthesizer.
func NewGoogle(opts GoogleOptions) *GoogleSynthesizer {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGoogleTTSURL
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &GoogleSynthesizer{
		baseURL:  opts.BaseURL,
		language: opts.Language,
		client:   opts.Client,
	}
}

// Name returns "google".
func (g *GoogleSynthesizer) Name() string { return "google" }

// Synthesize requests each text chunk in order and joins the MP3 streams.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	chunks := splitText(text, googleMaxChars)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text to synthesize")
	}

	var out bytes.Buffer
	for i, chunk := range chunks {
		data, err := g.fetch(ctx, chunk, i, len(chunks))
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if i > 0 {
			data = stripID3(data)
		}
		out.Write(data)
	}
	return out.Bytes(), nil
}

func (g *GoogleSynthesizer) fetch(ctx context.Context, chunk string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", chunk)
	q.Set("tl", g.language)
	q.Set("client", "tw-ob")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", googleUserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("speech endpoint returned no audio")
	}
	return data, nil
}

// splitText breaks text into pieces of at most max runes, preferring
// sentence punctuation and then whitespace as break points.
func splitText(text string, max int) []string {
	text = strings.Join(strings.Fields(text), " ")
	var chunks []string
	for text != "" {
		runes := []rune(text)
		if len(runes) <= max {
			chunks = append(chunks, text)
			break
		}

		cut := -1
		for i := max; i > 0; i-- {
			if strings.ContainsRune(".!?;:,", runes[i-1]) && runes[i] == ' ' {
				cut = i
				break
			}
		}
		if cut < 0 {
			for i := max; i > 0; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
		}
		if cut <= 0 {
			cut = max
		}

		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		text = strings.TrimSpace(string(runes[cut:]))
	}
	return chunks
}

// stripID3 drops a leading ID3v2 tag so concatenated streams decode as one.
func stripID3(data []byte) []byte {
	if len(data) < 10 || string(data[:3]) != "ID3" {
		return data
	}
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
	end := 10 + size
	if data[5]&0x10 != 0 {
		end += 10 // footer present
	}
	if end > len(data) {
		return data
	}
	return data[end:]
}
