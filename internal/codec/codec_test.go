package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuperBlockRoundTrip(t *testing.T) {
	sb := SuperBlock{CurIno: 1234}
	got, err := DecodeSuperBlock(sb.Encode())
	require.NoError(t, err)
	require.Equal(t, sb, got)
}

func TestDecodeSuperBlockWrongSize(t *testing.T) {
	_, err := DecodeSuperBlock([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDentryRoundTrip(t *testing.T) {
	d := Dentry{Ino: 42, FType: Dir, Name: "bin"}
	got, err := DecodeDentry(d.Encode())
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestDentryEncodeSize(t *testing.T) {
	d := Dentry{Ino: 1, FType: Reg, Name: "x"}
	require.Len(t, d.Encode(), DentrySize)
}

func TestDentryNameExactlyNameMax(t *testing.T) {
	name := strings.Repeat("a", NameMax)
	d := Dentry{Ino: 7, FType: Reg, Name: name}
	got, err := DecodeDentry(d.Encode())
	require.NoError(t, err)
	require.Equal(t, name, got.Name)
}

func TestDentryNameTruncated(t *testing.T) {
	name := strings.Repeat("b", NameMax+10)
	d := Dentry{Ino: 8, FType: Reg, Name: name}
	encoded := d.Encode()
	got, err := DecodeDentry(encoded)
	require.NoError(t, err)
	require.Equal(t, name[:NameMax], got.Name)
	require.Equal(t, byte(0), encoded[DentrySize-1])
}

func TestDecodeDentryWrongSize(t *testing.T) {
	_, err := DecodeDentry(make([]byte, DentrySize-1))
	require.Error(t, err)
}
