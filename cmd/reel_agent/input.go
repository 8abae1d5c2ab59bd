package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/pipeline"
	"github.com/jonathan/reel-forge/internal/pipeline/steps"
)

// batchFile is the fan-out form of an input file.
type batchFile struct {
	Items *[]json.RawMessage `json:"items"`
}

// decodeItems turns an input file into the runs of a batch. The file holds
// either one input of the pipeline's first stage or {"items": [...]}. Item
// run ids derive from batchID and each item's "key", so resuming batchID
// resumes every item.
func decodeItems(def *pipeline.Definition, data []byte, batchID string) ([]pipeline.Item, error) {
	raws, err := splitItems(data)
	if err != nil {
		return nil, err
	}

	items := make([]pipeline.Item, 0, len(raws))
	seen := make(map[string]int, len(raws))
	for i, raw := range raws {
		key := itemKey(raw, i)
		if prev, dup := seen[key]; dup {
			return nil, fault.Validationf("items %d and %d share key %q", prev, i, key)
		}
		seen[key] = i

		in, err := steps.DecodeInput(def, raw)
		if err != nil {
			return nil, fault.Validation(fmt.Errorf("item %d: %w", i, err))
		}
		items = append(items, pipeline.Item{
			RunID: pipeline.ItemRunID(batchID, key, len(raws)),
			Input: in,
		})
	}
	return items, nil
}

func splitItems(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fault.Validationf("input is empty")
	}
	if trimmed[0] != '{' {
		return nil, fault.Validationf("input must be a JSON object")
	}

	var batch batchFile
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, fault.Validation(fmt.Errorf("parse input: %w", err))
	}
	if batch.Items == nil {
		return []json.RawMessage{trimmed}, nil
	}
	if len(*batch.Items) == 0 {
		return nil, fault.Validationf("input has no items")
	}
	return *batch.Items, nil
}

// itemKey is the item's "key" field, else its position.
func itemKey(raw json.RawMessage, index int) string {
	var k struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &k); err == nil && k.Key != "" {
		return k.Key
	}
	return fmt.Sprintf("item-%d", index)
}
