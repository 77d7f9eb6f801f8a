package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroupSpecs(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    []groupSpec
		wantErr bool
	}{
		{
			name:   "sizes with units",
			values: []string{"main_a:4GiB", "main_b:512MiB"},
			want: []groupSpec{
				{name: "main_a", size: 4 << 30},
				{name: "main_b", size: 512 << 20},
			},
		},
		{
			name:   "plain bytes",
			values: []string{"vendor:4096"},
			want:   []groupSpec{{name: "vendor", size: 4096}},
		},
		{
			name:    "missing size",
			values:  []string{"main_a"},
			wantErr: true,
		},
		{
			name:    "empty name",
			values:  []string{":1GiB"},
			wantErr: true,
		},
		{
			name:    "bad size",
			values:  []string{"main_a:lots"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGroupSpecs(tt.values)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteFields(t *testing.T) {
	report := featureReport{DynamicPartitions: "launch", VirtualAB: "none", Mode: "normal"}
	fields := []field{{"dynamic partitions", "launch"}, {"virtual A/B", "none"}}

	tests := []struct {
		format   string
		contains string
		wantErr  bool
	}{
		{format: "json", contains: `"dynamic_partitions": "launch"`},
		{format: "yaml", contains: "virtual_ab: none"},
		{format: "table", contains: "virtual A/B"},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			err := writeFields(&buf, tt.format, report, fields)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, buf.String(), tt.contains)
		})
	}
}
