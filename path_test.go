package cfbstore

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func TestNameChainFromPath(t *testing.T) {
	type args struct {
		s string
	}
	tests := []struct {
		name string
		args args
		want []string
	}{
		{
			name: "empty",
			args: args{s: ""},
			want: []string{},
		},
		{
			name: "root",
			args: args{s: "/"},
			want: []string{},
		},
		{
			name: "valid abs",
			args: args{s: "/foo/bar/baz/"},
			want: []string{"foo", "bar", "baz"},
		},
		{
			name: "valid rel",
			args: args{s: "foo/bar/baz"},
			want: []string{"foo", "bar", "baz"},
		},
		{
			name: "valid up",
			args: args{s: "foo/bar/../baz"},
			want: []string{"foo", "baz"},
		},
		{
			name: "invalid up",
			args: args{s: "foo/../../baz"},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameChainFromPath(tt.args.s); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NameChainFromPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPathFromNameChain(t *testing.T) {
	type args struct {
		names []string
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "empty",
			args: args{names: []string{}},
			want: "/",
		},
		{
			name: "valid",
			args: args{names: []string{"foo", "bar", "baz"}},
			want: "/foo/bar/baz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathFromNameChain(tt.args.names); got != tt.want {
				t.Errorf("PathFromNameChain() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareNames(t *testing.T) {
	tests := []struct {
		name  string
		left  string
		right string
		want  Ordering
	}{
		{name: "shorter first", left: "ZZ", right: "aaa", want: OrderLess},
		{name: "longer last", left: "abcd", right: "B", want: OrderGreater},
		{name: "case insensitive equal", left: "Contents", right: "CONTENTS", want: OrderEqual},
		{name: "upper-cased compare", left: "a", right: "B", want: OrderLess},
		{name: "upper-cased compare reversed", left: "c", right: "B", want: OrderGreater},
		{name: "non ascii", left: "été", right: "ÉTÉ", want: OrderEqual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareNames(tt.left, tt.right); got != tt.want {
				t.Errorf("CompareNames(%q, %q) = %v, want %v", tt.left, tt.right, got, tt.want)
			}
		})
	}
}

func TestCompareNamesSortsCanonically(t *testing.T) {
	names := []string{"C", "a", "SummaryInformation", "B", "Contents"}
	sort.Slice(names, func(i, j int) bool { return CompareNames(names[i], names[j]) == OrderLess })

	want := []string{"a", "B", "C", "Contents", "SummaryInformation"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("sorted = %v, want %v", names, want)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{name: "plain", arg: "Contents", wantErr: false},
		{name: "max length", arg: strings.Repeat("x", MAX_NAME_LEN), wantErr: false},
		{name: "too long", arg: strings.Repeat("x", MAX_NAME_LEN+1), wantErr: true},
		{name: "empty", arg: "", wantErr: true},
		{name: "slash", arg: "a/b", wantErr: true},
		{name: "bang", arg: "a!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrorInvalidName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrorInvalidName", tt.arg, err)
			}
		})
	}
}
