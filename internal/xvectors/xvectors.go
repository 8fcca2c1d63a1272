// Package xvectors fetches speaker embeddings from the Hugging Face
// datasets-server rows API.
package xvectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

// Defaults for the CMU ARCTIC x-vector set used by SpeechT5.
const (
	DefaultEndpoint = "https://datasets-server.huggingface.co"
	DefaultDataset  = "Matthijs/cmu-arctic-xvectors"
	DefaultSplit    = "validation"

	apiRows       = "/rows"
	datasetConfig = "default"
	bodyPreview   = 512
)

var (
	// ErrIndexOutOfRange is returned when the dataset has no row at an index.
	ErrIndexOutOfRange = errors.New("speaker index out of range")
	// ErrMissingVector is returned when a row has no xvector column.
	ErrMissingVector = errors.New("row has no xvector")
)

// Dataset is a remote x-vector table. It implements core.SpeakerEmbeddings.
type Dataset struct {
	httpClient *http.Client
	endpoint   string
	dataset    string
	split      string
}

type rowsResponse struct {
	NumRowsTotal int `json:"num_rows_total"`
	Rows         []struct {
		RowIdx int `json:"row_idx"`
		Row    struct {
			XVector []float32 `json:"xvector"`
		} `json:"row"`
	} `json:"rows"`
}

// New creates a dataset client. Empty arguments select the defaults.
func New(endpoint, dataset, split string, timeout time.Duration) *Dataset {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if dataset == "" {
		dataset = DefaultDataset
	}

	if split == "" {
		split = DefaultSplit
	}

	return &Dataset{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		dataset:    dataset,
		split:      split,
	}
}

// Embedding returns the x-vector stored at index. A negative index counts
// from the end of the split.
func (d *Dataset) Embedding(ctx context.Context, index int) ([]float32, error) {
	offset := index
	if offset < 0 {
		head, err := d.rows(ctx, 0)
		if err != nil {
			return nil, err
		}

		offset += head.NumRowsTotal
		if offset < 0 {
			return nil, fmt.Errorf("%w: %d in %s/%s", ErrIndexOutOfRange, index, d.dataset, d.split)
		}
	}

	rows, err := d.rows(ctx, offset)
	if err != nil {
		return nil, err
	}

	if len(rows.Rows) == 0 {
		return nil, fmt.Errorf("%w: %d in %s/%s", ErrIndexOutOfRange, index, d.dataset, d.split)
	}

	vector := rows.Rows[0].Row.XVector
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: index %d", ErrMissingVector, index)
	}

	return vector, nil
}

func (d *Dataset) rows(ctx context.Context, offset int) (rowsResponse, error) {
	var rows rowsResponse

	query := url.Values{}
	query.Set("dataset", d.dataset)
	query.Set("config", datasetConfig)
	query.Set("split", d.split)
	query.Set("offset", strconv.Itoa(offset))
	query.Set("length", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+apiRows+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return rows, fmt.Errorf("failed to create rows request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return rows, fmt.Errorf("failed to fetch row %d from %s: %w", offset, d.dataset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rows, fmt.Errorf("failed to read rows response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return rows, fmt.Errorf("datasets server returned %s: %s", resp.Status, preview(body))
	}

	err = sonic.ConfigStd.Unmarshal(body, &rows)
	if err != nil {
		return rows, fmt.Errorf("failed to decode rows response: %w", err)
	}

	return rows, nil
}

func preview(body []byte) string {
	if len(body) > bodyPreview {
		return string(body[:bodyPreview]) + "..."
	}

	return string(body)
}
