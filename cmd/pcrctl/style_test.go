package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
)

func TestStyles_PlainWhenNotTerminal(t *testing.T) {
	st := newStyles(&bytes.Buffer{})
	for _, v := range []string{"ok", "degraded", "down"} {
		assert.Equal(t, v, st.status(v))
	}
}

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	printRecords(&buf, []pcr.Record{{RegNo: "R1", DocumentName: "手機", Developer: "ITRI", PassageCount: 2, DownloadLink: "https://example.test/r1"}})
	assert.Equal(t, "1. [R1] 手機\n   developer: ITRI\n   passages:  2\n   link:      https://example.test/r1\n", buf.String())

	buf.Reset()
	printRecords(&buf, nil)
	assert.Equal(t, "No records found.\n", buf.String())
}
