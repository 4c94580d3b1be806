package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(t *testing.T, r *streamRenderer, msgs ...string) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, r.handle([]byte(m)))
	}
}

func TestStreamRenderer_CompletedRun(t *testing.T) {
	var buf bytes.Buffer
	r := &streamRenderer{w: &buf}
	feed(t, r,
		`{"type":"system","message":"Audit started","session_id":"3f2b"}`,
		`{"type":"on_chain_start","name":"audit_graph","data":{"input":{}},"timestamp":"t#1"}`,
		`{"type":"on_chain_start","name":"auditor","data":{},"timestamp":"t#2"}`,
		`{"type":"on_chain_stream","name":"auditor","data":{"chunk":{"finding":{"category":"claims","severity":"critical","description":"guaranteed results"}}},"timestamp":"t#3"}`,
		`{"type":"on_chain_end","name":"reporter","data":{"output":{"final_status":"fail","final_report":"# Compliance Audit Report"}},"timestamp":"t#4"}`,
		`{"type":"on_chain_end","name":"audit_graph","data":{"output":{"final_status":"fail"}},"timestamp":"t#5"}`,
		`{"type":"system","message":"Audit complete","status":"done"}`,
	)

	s := r.summary
	assert.Equal(t, "3f2b", s.SessionID)
	assert.Equal(t, 5, s.Events)
	assert.Equal(t, 1, s.Findings)
	assert.Equal(t, "fail", s.FinalStatus)
	assert.Equal(t, "# Compliance Audit Report", s.Report)
	assert.True(t, s.Completed)
	require.Error(t, s.err())
	assert.Contains(t, s.err().Error(), "failed compliance")

	out := buf.String()
	assert.Contains(t, out, "guaranteed results")
	assert.Contains(t, out, "> auditor")
	assert.NotContains(t, out, "> audit_graph")
}

func TestStreamRenderer_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []string
		wantErr string
	}{
		{
			name:    "rejected",
			msgs:    []string{`{"error":"No video_url provided"}`},
			wantErr: "audit rejected: No video_url provided",
		},
		{
			name:    "faulted",
			msgs:    []string{`{"type":"system","message":"Audit started","session_id":"a"}`, `{"type":"error","message":"boom"}`},
			wantErr: "audit faulted: boom",
		},
		{
			name:    "cut short",
			msgs:    []string{`{"type":"system","message":"Audit started","session_id":"a"}`},
			wantErr: "before the audit completed",
		},
		{
			name: "pass",
			msgs: []string{
				`{"type":"system","message":"Audit started","session_id":"a"}`,
				`{"type":"on_chain_end","name":"audit_graph","data":{"output":{"final_status":"pass"}},"timestamp":"t#1"}`,
				`{"type":"system","message":"Audit complete","status":"done"}`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &streamRenderer{w: &bytes.Buffer{}}
			feed(t, r, tt.msgs...)
			err := r.summary.err()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStreamRenderer_Raw(t *testing.T) {
	var buf bytes.Buffer
	r := &streamRenderer{w: &buf, raw: true}
	line := `{"type":"system","message":"Audit started","session_id":"a"}`
	feed(t, r, line)
	assert.Equal(t, line+"\n", buf.String())
}

func TestStreamRenderer_BadJSON(t *testing.T) {
	r := &streamRenderer{w: &bytes.Buffer{}}
	assert.Error(t, r.handle([]byte("not json")))
}

func TestAuditEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
		err  bool
	}{
		{"", "ws://localhost:8000/ws/audit", false},
		{"ws://audit.internal:9000", "ws://audit.internal:9000/ws/audit", false},
		{"https://audit.example.com/", "wss://audit.example.com/ws/audit", false},
		{"http://10.0.0.5:8000/proxy", "ws://10.0.0.5:8000/proxy/ws/audit", false},
		{"ftp://nope", "", true},
	}
	for _, tt := range tests {
		got, err := auditEndpoint(tt.base, 8000)
		if tt.err {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}
