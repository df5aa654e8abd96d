package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/m-lab/dcsim/trace"
)

func TestReadAndFilter(t *testing.T) {
	csv := strings.Join([]string{
		"Time.Ps,Event,Location,Flow.ID,Packet.Kind,Packet.ID,Packet.Size,TCP.Seqno,TCP.Ackno,Packet.Header",
		"100,DROP,queue0,7,TCP,1,1500,2,0,false",
		"200,DEPART,queue0,8,TCP,2,1500,2,0,false",
		"300,DROP,queue0,8,TCP,3,1500,1502,0,false",
	}, "\n")

	rows, err := readRecords(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatal("expected 3 rows, got", len(rows))
	}

	*flowID = 8
	*event = "DROP"
	defer func() { *flowID = 0; *event = "" }()
	got := filter(rows)
	if len(got) != 1 || got[0].TimePs != 300 {
		t.Error("filter kept the wrong rows:", got)
	}
}

func TestPrintSummary(t *testing.T) {
	rows := []*trace.TrafficRecord{
		{Event: "DROP"},
		{Event: "DROP"},
		{Event: "DEPART"},
	}
	var buf bytes.Buffer
	printSummary(rows, &buf)
	out := buf.String()
	if !strings.Contains(out, "DROP 2") || !strings.Contains(out, "DEPART 1") {
		t.Error("summary wrong:", out)
	}
}
