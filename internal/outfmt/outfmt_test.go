package outfmt

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Text, false},
		{"text", Text, false},
		{"json", JSON, false},
		{"jsonl", JSONL, false},
		{"ndjson", JSONL, false},
		{"yaml", Text, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsJSON(ctx))
	assert.Equal(t, "", GetQuery(ctx))

	ctx = WithQuery(WithMode(ctx, JSONL), ".id")
	assert.True(t, IsJSON(ctx))
	assert.True(t, IsJSONL(ctx))
	assert.Equal(t, ".id", GetQuery(ctx))
	assert.Equal(t, "jsonl", ModeFromContext(ctx).String())
}

func TestWriteJSON_WrapsSlices(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []string{"a", "b"}, "", true))
	assert.Equal(t, `{"items":["a","b"]}`, strings.TrimSpace(buf.String()))

	buf.Reset()
	var empty []string
	require.NoError(t, WriteJSON(&buf, empty, "", true))
	assert.Equal(t, `{"items":[]}`, strings.TrimSpace(buf.String()))
}

func TestWriteJSON_Query(t *testing.T) {
	var buf bytes.Buffer
	rows := []map[string]string{{"id": "c1"}, {"id": "c2"}}
	require.NoError(t, WriteJSON(&buf, rows, "[.items[].id]", true))
	assert.Equal(t, `["c1","c2"]`, strings.TrimSpace(buf.String()))
}

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, map[string]string{"id": "m1", "body": "hello"}, ".body"))
	require.NoError(t, WriteLine(&buf, map[string]string{"id": "m2"}, ""))
	assert.Equal(t, "\"hello\"\n{\"id\":\"m2\"}\n", buf.String())
}

func TestFormatter_Table(t *testing.T) {
	var out, errOut bytes.Buffer
	f := NewFormatter(context.Background(), &out, &errOut)

	done, err := f.Result([]string{"ignored"})
	require.NoError(t, err)
	require.False(t, done, "text mode leaves rendering to the caller")

	table := f.Table("ID", "UNREAD", "LAST MESSAGE")
	table.Row("c1", 2, "where is my refund?")
	table.Row("c2", 0, "")
	table.Row("c3")
	require.NoError(t, table.Flush())

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ID  UNREAD  LAST MESSAGE", lines[0])
	assert.Equal(t, "c1  2       where is my refund?", lines[1])
	assert.Equal(t, "c2  0       -", lines[2])
	assert.Equal(t, "c3  -       -", lines[3])

	f.Notice("No conversations found")
	assert.Equal(t, "No conversations found\n", errOut.String())
}

func TestFormatter_Fields(t *testing.T) {
	var out bytes.Buffer
	f := NewFormatter(context.Background(), &out, &out)
	require.NoError(t, f.Fields(
		Field{Label: "Backend", Value: "https://support.example.com"},
		Field{Label: "Reachable", Value: nil},
		Field{Label: "Push channel", Value: true},
	))
	assert.Equal(t, "Backend:       https://support.example.com\nPush channel:  true\n", out.String())
}

func TestFormatter_JSONMode(t *testing.T) {
	var out bytes.Buffer
	f := NewFormatter(WithMode(context.Background(), JSON), &out, &out)
	done, err := f.Result(map[string]string{"id": "c1"})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Contains(t, out.String(), `"id": "c1"`)

	out.Reset()
	f = NewFormatter(WithQuery(WithMode(context.Background(), JSONL), ".id"), &out, &out)
	done, err = f.Result(map[string]string{"id": "c2"})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "\"c2\"\n", out.String())
}
