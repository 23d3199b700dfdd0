package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"flashLedger/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "receipts.jsonl")
	store := NewJsonlStorage(path)

	if err := store.PutReceiptBatch([]model.Receipt{{Seq: 1, Method: "deposit", Status: model.ReceiptOK}}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := store.PutReceiptBatch(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := store.PutReceiptBatch([]model.Receipt{{Seq: 2, Method: "withdraw", Status: model.ReceiptFailed, Error: "boom"}}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.Receipt
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r model.Receipt
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("parse line: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Error != "boom" {
		t.Fatalf("unexpected receipts %+v", got)
	}
}

func TestJsonlStorageFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.jsonl")
	store := NewJsonlStorage(path)
	if err := store.PutFailureBatch([]model.ReplayError{{Seq: 9, Stage: "decode", Error: "bad selector"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rec model.ReplayError
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Seq != 9 || rec.Stage != "decode" {
		t.Fatalf("unexpected record %+v", rec)
	}
}
