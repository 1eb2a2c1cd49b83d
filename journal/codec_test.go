package journal

import (
	"encoding/binary"
	"testing"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestBlockHeaderFromBytes(t *testing.T) {
	tests := []struct {
		name      string
		input     []byte
		want      BlockHeader
		wantValid bool
		wantErr   bool
	}{
		{
			name: "descriptor",
			input: func() []byte {
				b := make([]byte, 12)
				binary.BigEndian.PutUint32(b[0x0:0x4], Magic)
				binary.BigEndian.PutUint32(b[0x4:0x8], uint32(BlockTypeDescriptor))
				binary.BigEndian.PutUint32(b[0x8:0xc], 42)
				return b
			}(),
			want:      BlockHeader{Magic: Magic, BlockType: BlockTypeDescriptor, Sequence: 42},
			wantValid: true,
		},
		{
			name: "longer block decodes only the header",
			input: func() []byte {
				b := make([]byte, 4096)
				binary.BigEndian.PutUint32(b[0x0:0x4], Magic)
				binary.BigEndian.PutUint32(b[0x4:0x8], uint32(BlockTypeRevoke))
				binary.BigEndian.PutUint32(b[0x8:0xc], 7)
				b[0xc] = 0xff
				return b
			}(),
			want:      BlockHeader{Magic: Magic, BlockType: BlockTypeRevoke, Sequence: 7},
			wantValid: true,
		},
		{
			name:      "bad magic is decoded, not rejected",
			input:     []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 2, 0, 0, 0, 1},
			want:      BlockHeader{Magic: 0xdeadbeef, BlockType: BlockTypeCommit, Sequence: 1},
			wantValid: false,
		},
		{
			name:    "insufficient bytes",
			input:   make([]byte, 11),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := BlockHeaderFromBytes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BlockHeaderFromBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if h != tt.want {
				t.Errorf("header = %+v, want %+v", h, tt.want)
			}
			if h.Valid() != tt.wantValid {
				t.Errorf("Valid() = %v, want %v", h.Valid(), tt.wantValid)
			}
		})
	}
}

func TestBlockHeaderToBytes(t *testing.T) {
	h := BlockHeader{Magic: Magic, BlockType: BlockTypeCommit, Sequence: 123}
	b := h.ToBytes()
	expected := []byte{0xc0, 0x3b, 0x39, 0x98, 0, 0, 0, 2, 0, 0, 0, 123}
	if diff := cmp.Diff(expected, b); diff != "" {
		t.Errorf("ToBytes() mismatch (-want +got):\n%s", diff)
	}
}

func TestSuperblockFromBytes(t *testing.T) {
	b := make([]byte, SuperblockSize)
	binary.BigEndian.PutUint32(b[0x0:0x4], Magic)
	binary.BigEndian.PutUint32(b[0x4:0x8], uint32(BlockTypeFormatExtended))
	binary.BigEndian.PutUint32(b[0xc:0x10], 4096)
	binary.BigEndian.PutUint32(b[0x10:0x14], 8192)
	binary.BigEndian.PutUint32(b[0x14:0x18], 1)
	binary.BigEndian.PutUint32(b[0x18:0x1c], 77)
	binary.BigEndian.PutUint32(b[0x1c:0x20], 12)
	binary.BigEndian.PutUint32(b[0x20:0x24], 0xfffffffb) // -5
	binary.BigEndian.PutUint32(b[0x24:0x28], FeatureCompatChecksum)
	binary.BigEndian.PutUint32(b[0x28:0x2c], FeatureIncompat64Bit|FeatureIncompatChecksumV2)
	binary.BigEndian.PutUint32(b[0x40:0x44], 1)
	binary.BigEndian.PutUint32(b[0x48:0x4c], 32768)
	binary.BigEndian.PutUint32(b[0x4c:0x50], 16384)
	b[0x50] = ChecksumTypeCRC32C
	b[0x51] = 0xaa // padding, ignored
	binary.BigEndian.PutUint32(b[0x54:0x58], 256)
	binary.BigEndian.PutUint32(b[0xfc:0x100], 0x12345678)
	u := uuid.MustParse("0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0")
	copy(b[0x30:0x40], u[:])
	b[0x100] = 0x01
	b[0x3ff] = 0x02

	sb, err := SuperblockFromBytes(b)
	if err != nil {
		t.Fatalf("SuperblockFromBytes() error = %v", err)
	}
	expected := &Superblock{
		Header:          BlockHeader{Magic: Magic, BlockType: BlockTypeFormatExtended},
		BlockSize:       4096,
		MaxBlocks:       8192,
		FirstBlock:      1,
		SequenceID:      77,
		StartBlockNum:   12,
		Errno:           -5,
		FeatureCompat:   FeatureCompatChecksum,
		FeatureIncompat: FeatureIncompat64Bit | FeatureIncompatChecksumV2,
		UUID:            u,
		NumUsers:        1,
		TransMax:        32768,
		TransDataMax:    16384,
		ChecksumType:    ChecksumTypeCRC32C,
		NumFCBlocks:     256,
		Checksum:        0x12345678,
	}
	expected.Users[0] = 0x01
	expected.Users[usersSize-1] = 0x02
	if diff := deep.Equal(sb, expected); diff != nil {
		t.Errorf("SuperblockFromBytes() mismatch: %v", diff)
	}
	if !sb.Has64Bit() || !sb.HasChecksumV2() {
		t.Errorf("feature helpers: Has64Bit=%v HasChecksumV2=%v, want both true", sb.Has64Bit(), sb.HasChecksumV2())
	}
}

func TestSuperblockFromBytesShort(t *testing.T) {
	if _, err := SuperblockFromBytes(make([]byte, SuperblockSize-1)); err == nil {
		t.Error("expected error for short superblock")
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	full := testSuperblock(4096, 32768, 1, 17)
	full.Errno = -30
	full.FeatureCompat = FeatureCompatChecksum
	full.FeatureIncompat = FeatureIncompatRevoke | FeatureIncompat64Bit | FeatureIncompatChecksumV3
	full.FeatureROCompat = 0x1
	full.DynamicSuperblock = 3
	full.NumFCBlocks = 64
	full.Head = 99
	full.Checksum = 0xcafef00d
	for i := range full.Users {
		full.Users[i] = byte(i)
	}

	basic := &Superblock{
		Header:     BlockHeader{Magic: Magic, BlockType: BlockTypeFormatBasic, Sequence: 2},
		BlockSize:  1024,
		MaxBlocks:  1024,
		FirstBlock: 1,
	}

	tests := []struct {
		name string
		sb   *Superblock
	}{
		{"extended with every field set", full},
		{"basic", basic},
		{"zero value", &Superblock{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.sb.ToBytes()
			if len(b) != SuperblockSize {
				t.Fatalf("ToBytes() returned %d bytes, want %d", len(b), SuperblockSize)
			}
			restored, err := SuperblockFromBytes(b)
			if err != nil {
				t.Fatalf("SuperblockFromBytes() error = %v", err)
			}
			if diff := deep.Equal(restored, tt.sb); diff != nil {
				t.Errorf("round trip mismatch: %v", diff)
			}
		})
	}
}

func TestTagStride(t *testing.T) {
	tests := []struct {
		incompat uint32
		stride   int
	}{
		{0, 12},
		{FeatureIncompat64Bit, 16},
		{FeatureIncompatChecksumV2, 14},
		{FeatureIncompat64Bit | FeatureIncompatChecksumV2, 18},
		{FeatureIncompatRevoke | FeatureIncompatAsyncCommit, 12},
	}
	for _, tt := range tests {
		sb := &Superblock{FeatureIncompat: tt.incompat}
		if got := sb.TagStride(); got != tt.stride {
			t.Errorf("TagStride() with incompat 0x%x = %d, want %d", tt.incompat, got, tt.stride)
		}
	}
}

func TestDescriptorTagRoundTrip(t *testing.T) {
	u := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	tests := []struct {
		name     string
		incompat uint32
		tag      DescriptorTag
		want     DescriptorTag
		size     int
	}{
		{
			name:     "32-bit same uuid",
			incompat: 0,
			tag:      DescriptorTag{BlockNr: 0x1234, Checksum: 0xbeef, Flags: TagSameUUID | TagLastEntry},
			want:     DescriptorTag{BlockNr: 0x1234, Checksum: 0xbeef, Flags: TagSameUUID | TagLastEntry},
			size:     12,
		},
		{
			name:     "32-bit drops high block bits",
			incompat: 0,
			tag:      DescriptorTag{BlockNr: 0x7_0000_0001, Flags: TagSameUUID},
			want:     DescriptorTag{BlockNr: 0x1, Flags: TagSameUUID},
			size:     12,
		},
		{
			name:     "64-bit with uuid",
			incompat: FeatureIncompat64Bit,
			tag:      DescriptorTag{BlockNr: 0x7_0000_0001, Flags: TagEscaped, UUID: &u},
			want:     DescriptorTag{BlockNr: 0x7_0000_0001, Flags: TagEscaped},
			size:     16 + 16,
		},
		{
			name:     "64-bit checksum v2",
			incompat: FeatureIncompat64Bit | FeatureIncompatChecksumV2,
			tag:      DescriptorTag{BlockNr: 0xffff_ffff_ffff, Checksum: 1, Flags: TagSameUUID | TagDeleted},
			want:     DescriptorTag{BlockNr: 0xffff_ffff_ffff, Checksum: 1, Flags: TagSameUUID | TagDeleted},
			size:     18,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &Superblock{FeatureIncompat: tt.incompat}
			b := tt.tag.ToBytes(sb)
			if len(b) != tt.size {
				t.Fatalf("ToBytes() returned %d bytes, want %d", len(b), tt.size)
			}
			got, err := DescriptorTagFromBytes(b, sb)
			if err != nil {
				t.Fatalf("DescriptorTagFromBytes() error = %v", err)
			}
			// the inline uuid is read by the descriptor parser, not the tag decoder
			if diff := deep.Equal(got, tt.want); diff != nil {
				t.Errorf("round trip mismatch: %v", diff)
			}
			if tt.tag.UUID != nil {
				if diff := cmp.Diff(tt.tag.UUID[:], b[sb.TagStride():]); diff != "" {
					t.Errorf("inline uuid mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestCommitHeaderRoundTrip(t *testing.T) {
	c := &CommitHeader{
		Header:       BlockHeader{Magic: Magic, BlockType: BlockTypeCommit, Sequence: 88},
		ChecksumType: ChecksumTypeCRC32C,
		ChecksumSize: 4,
		CommitSec:    1712345678,
		CommitNsec:   999,
	}
	copy(c.Checksum[:], []byte{1, 2, 3, 4})

	b := c.ToBytes(4096)
	if len(b) != 4096 {
		t.Fatalf("ToBytes() returned %d bytes, want 4096", len(b))
	}
	if sec := binary.BigEndian.Uint64(b[0x30:0x38]); sec != c.CommitSec {
		t.Errorf("commit seconds at 0x30 = %d, want %d", sec, c.CommitSec)
	}
	restored, err := CommitHeaderFromBytes(b)
	if err != nil {
		t.Fatalf("CommitHeaderFromBytes() error = %v", err)
	}
	if diff := cmp.Diff(c, restored); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := CommitHeaderFromBytes(b[:CommitHeaderSize-1]); err == nil {
		t.Error("expected error for short commit block")
	}
}

func TestRevokeHeaderRoundTrip(t *testing.T) {
	r := &RevokeHeader{
		Header: BlockHeader{Magic: Magic, BlockType: BlockTypeRevoke, Sequence: 3},
		Size:   16 + 8*4,
	}
	restored, err := RevokeHeaderFromBytes(r.ToBytes(1024))
	if err != nil {
		t.Fatalf("RevokeHeaderFromBytes() error = %v", err)
	}
	if diff := cmp.Diff(r, restored); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, err := RevokeHeaderFromBytes(make([]byte, RevokeHeaderSize-1)); err == nil {
		t.Error("expected error for short revoke block")
	}
}

func TestDescriptorBlockToBytesOverflow(t *testing.T) {
	sb := &Superblock{}
	d := &DescriptorBlock{Header: BlockHeader{Magic: Magic, BlockType: BlockTypeDescriptor}}
	// (1024-12)/12 = 84 tags fit
	for i := 0; i < 85; i++ {
		d.Tags = append(d.Tags, DescriptorTag{BlockNr: uint64(i), Flags: TagSameUUID})
	}
	if _, err := d.ToBytes(sb, 1024); err == nil {
		t.Error("expected error when tags overflow the block")
	}
	d.Tags = d.Tags[:84]
	if _, err := d.ToBytes(sb, 1024); err != nil {
		t.Errorf("unexpected error for a full block: %v", err)
	}
}
