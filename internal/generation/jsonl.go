package generation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single JSONL line in a result file.
const maxLineSize = 64 << 20

type wirePart struct {
	Text string `json:"text"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	Temperature      float32 `json:"temperature"`
}

type wireRequest struct {
	Contents          []wireContent        `json:"contents"`
	SystemInstruction *wireContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  wireGenerationConfig `json:"generationConfig"`
}

type wireRequestLine struct {
	Key     string      `json:"key"`
	Request wireRequest `json:"request"`
}

type wireCandidate struct {
	Content      *wireContent `json:"content"`
	FinishReason string       `json:"finishReason,omitempty"`
}

type wireResponse struct {
	Candidates []wireCandidate `json:"candidates"`
}

type wireStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireResultLine struct {
	Key      string        `json:"key"`
	Response *wireResponse `json:"response,omitempty"`
	Error    *wireStatus   `json:"error,omitempty"`
	Status   *wireStatus   `json:"status,omitempty"`
}

// EncodeRequests writes one JSONL request line per job request in batch.
func EncodeRequests(w io.Writer, batch BatchDescriptor) error {
	if len(batch.Requests) == 0 {
		return ErrEmptyBatch
	}

	var system *wireContent
	if batch.Instruction.SystemPrompt != "" {
		system = &wireContent{Parts: []wirePart{{Text: batch.Instruction.SystemPrompt}}}
	}
	cfg := wireGenerationConfig{
		ResponseMIMEType: batch.Instruction.ResponseMIMEType,
		Temperature:      batch.Instruction.Temperature,
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, r := range batch.Requests {
		line := wireRequestLine{
			Key: r.ItemID,
			Request: wireRequest{
				Contents:          []wireContent{{Role: "user", Parts: []wirePart{{Text: r.Payload}}}},
				SystemInstruction: system,
				GenerationConfig:  cfg,
			},
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encoding request %s: %w", r.ItemID, err)
		}
	}
	return bw.Flush()
}

// DecodeRequests parses a JSONL request file back into job requests. Only
// the first user text of each line is kept as the payload.
func DecodeRequests(r io.Reader) ([]JobRequest, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var reqs []JobRequest
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var req wireRequestLine
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return nil, fmt.Errorf("%w: request line: %v", ErrInvalidResponse, err)
		}
		jr := JobRequest{ItemID: req.Key}
		if len(req.Request.Contents) > 0 && len(req.Request.Contents[0].Parts) > 0 {
			jr.Payload = req.Request.Contents[0].Parts[0].Text
		}
		reqs = append(reqs, jr)
	}
	return reqs, sc.Err()
}

// DecodeRequestKeys returns the keys of a JSONL request file in order.
func DecodeRequestKeys(r io.Reader) ([]string, error) {
	reqs, err := DecodeRequests(r)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(reqs))
	for i, req := range reqs {
		keys[i] = req.ItemID
	}
	return keys, nil
}

// DecodeOutput parses a JSONL result file. A line that cannot be decoded, or
// that carries an error instead of a response, yields a record with Err set;
// only I/O failures abort decoding.
func DecodeOutput(r io.Reader) ([]OutputRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var records []OutputRecord
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		records = append(records, decodeResultLine(lineNo, line))
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("reading result file: %w", err)
	}
	return records, nil
}

func decodeResultLine(lineNo int, line string) OutputRecord {
	var res wireResultLine
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		return OutputRecord{Err: fmt.Sprintf("line %d: malformed result: %v", lineNo, err)}
	}
	rec := OutputRecord{ItemID: res.Key}
	if rec.ItemID == "" {
		rec.Err = fmt.Sprintf("line %d: result has no key", lineNo)
		return rec
	}

	for _, st := range []*wireStatus{res.Error, res.Status} {
		if st != nil && (st.Code != 0 || st.Message != "") {
			rec.Err = fmt.Sprintf("service error %d: %s", st.Code, st.Message)
			return rec
		}
	}

	if res.Response == nil || len(res.Response.Candidates) == 0 || res.Response.Candidates[0].Content == nil {
		rec.Err = "response has no content"
		return rec
	}

	var text strings.Builder
	for _, p := range res.Response.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	rec.Payload = json.RawMessage(strings.TrimSpace(text.String()))
	return rec
}

// EncodeOutput writes records in the JSONL result format. It is the inverse
// of DecodeOutput for records without Err, and is used by the dry-run service.
func EncodeOutput(w io.Writer, records []OutputRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		line := wireResultLine{Key: rec.ItemID}
		if rec.Err != "" {
			line.Error = &wireStatus{Code: 500, Message: rec.Err}
		} else {
			line.Response = &wireResponse{Candidates: []wireCandidate{{
				Content:      &wireContent{Role: "model", Parts: []wirePart{{Text: string(rec.Payload)}}},
				FinishReason: "STOP",
			}}}
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}
