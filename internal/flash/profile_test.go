package flash

import (
	"errors"
	"testing"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/device"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

func TestLookup(t *testing.T) {
	p, err := Lookup(26)
	if err != nil {
		t.Fatalf("Lookup(26) error = %v", err)
	}
	if p.Mode != cartridge.ModeGBA || p.Capacity != 0x400000 || p.Erase != EraseSector {
		t.Errorf("Lookup(26) = %+v, want 4 MiB sector erased GBA cartridge", p)
	}

	p.Sectors[0].Size = 1
	again, _ := Lookup(26)
	if again.Sectors[0].Size != 0x2000 {
		t.Errorf("registry modified through a looked up profile")
	}

	if _, err := Lookup(7); !errors.Is(err, ErrUnknownCart) {
		t.Errorf("Lookup(7) error = %v, want ErrUnknownCart", err)
	}
}

func TestAliases(t *testing.T) {
	for alias, of := range aliases {
		a, err := Lookup(alias)
		if err != nil {
			t.Fatalf("Lookup(%d) error = %v", alias, err)
		}
		base := lookup(t, of)
		if a.AliasOf != of || !a.Force5V {
			t.Errorf("type %d: AliasOf = %d Force5V = %v, want %d true", alias, a.AliasOf, a.Force5V, of)
		}
		if base.Voltage != device.Voltage3V3 {
			t.Errorf("type %d aliases %d which is not a 3.3V cartridge", alias, of)
		}
		if a.Method != base.Method || a.Write != base.Write || a.Capacity != base.Capacity {
			t.Errorf("type %d differs from type %d", alias, of)
		}
	}
}

func TestRegistryConsistency(t *testing.T) {
	all := All()
	if len(all) != len(profiles)+len(aliases) {
		t.Fatalf("All() returned %d profiles, want %d", len(all), len(profiles)+len(aliases))
	}
	for i, p := range all {
		if i > 0 && all[i-1].ID >= p.ID {
			t.Errorf("All() not ordered at %d", p.ID)
		}
		if p.Name == "" || p.Capacity == 0 {
			t.Errorf("type %d: missing name or capacity", p.ID)
		}
		if p.Write.ChunkSize() == 0 {
			t.Errorf("type %d: write method %v has no chunk size", p.ID, p.Write)
		}
		if p.Erase == EraseSector && len(p.Sectors) == 0 {
			t.Errorf("type %d: sector erase without a sector map", p.ID)
		}
		if (p.Layout == LayoutMighty || p.Layout == LayoutMultiChip || p.Layout == LayoutBlockSelect) && p.BlockSize == 0 {
			t.Errorf("type %d: %v layout without a block size", p.ID, p.Layout)
		}
		if p.Mode == cartridge.ModeGBA && p.Voltage != device.Voltage3V3 {
			t.Errorf("type %d: GBA cartridge at %v", p.ID, p.Voltage)
		}
		if p.Mode == cartridge.ModeGB && p.WEPin != protocol.WEWR && p.WEPin != protocol.WEAudio {
			t.Errorf("type %d: WE pin %q", p.ID, p.WEPin)
		}
	}
}

func TestIsSectorStart(t *testing.T) {
	mx := []Sector{{0, 0x2000}, {0x10000, 0x10000}}
	tests := []struct {
		sectors []Sector
		off     uint32
		want    bool
	}{
		{mx, 0, true},
		{mx, 0x1000, false},
		{mx, 0x2000, true},
		{mx, 0xE000, true},
		{mx, 0x10000, true},
		{mx, 0x12000, false},
		{mx, 0x20000, true},
		{uniform(0x20000), 0x20000, true},
		{uniform(0x20000), 0x10000, false},
		{[]Sector{{0x100, 0x100}}, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		if got := IsSectorStart(tt.sectors, tt.off); got != tt.want {
			t.Errorf("IsSectorStart(%v, 0x%X) = %v, want %v", tt.sectors, tt.off, got, tt.want)
		}
	}
}

func TestSectorsFor(t *testing.T) {
	p := lookup(t, 23)
	if got := p.SectorsFor([]byte{0x8A, 0x00, 0x15, 0x88}); len(got) != 2 || got[0].Size != 0x8000 {
		t.Errorf("SectorsFor(small sector ID) = %v, want 32 KiB boot sectors", got)
	}
	if got := p.SectorsFor([]byte{0x89, 0x00, 0x88, 0x00}); len(got) != 1 || got[0].Size != 0x20000 {
		t.Errorf("SectorsFor(other ID) = %v, want uniform 128 KiB", got)
	}
}

func TestMatchesID(t *testing.T) {
	p := lookup(t, 4)
	tests := []struct {
		id   []byte
		want bool
	}{
		{[]byte{0x01, 0x01, 0x7E, 0x7E}, true},
		{[]byte{0xC2, 0x22, 0x00, 0x00}, true},
		{[]byte{0x01, 0xAD, 0x00, 0x00}, false},
	}
	for _, tt := range tests {
		if got := p.MatchesID(tt.id); got != tt.want {
			t.Errorf("MatchesID(%X) = %v, want %v", tt.id, got, tt.want)
		}
	}
	if !lookup(t, 12).MatchesID([]byte{1, 2, 3, 4}) {
		t.Errorf("profile without expected IDs rejected an ID")
	}
}

func TestMethodSequences(t *testing.T) {
	tests := []struct {
		m        Method
		wantSeq  [3]protocol.Command
		wantData uint16
	}{
		{Method555, [3]protocol.Command{{Addr: 0x555, Data: 0xAA}, {Addr: 0x2AA, Data: 0x55}, {Addr: 0x555, Data: 0xA0}}, 0xAA},
		{MethodAAA, [3]protocol.Command{{Addr: 0xAAA, Data: 0xAA}, {Addr: 0x555, Data: 0x55}, {Addr: 0xAAA, Data: 0xA0}}, 0xAA},
		{Method5555, [3]protocol.Command{{Addr: 0x5555, Data: 0xAA}, {Addr: 0x2AAA, Data: 0x55}, {Addr: 0x5555, Data: 0xA0}}, 0xAA},
		{MethodAAASwapped, [3]protocol.Command{{Addr: 0xAAA, Data: 0xA9}, {Addr: 0x555, Data: 0x56}, {Addr: 0xAAA, Data: 0xA0}}, 0xA9},
		{Method7AAASwapped, [3]protocol.Command{{Addr: 0x7AAA, Data: 0xA9}, {Addr: 0x7555, Data: 0x56}, {Addr: 0x7AAA, Data: 0xA0}}, 0xA9},
	}
	for _, tt := range tests {
		if got := tt.m.ProgramSequence(); got != tt.wantSeq {
			t.Errorf("%v ProgramSequence() = %v, want %v", tt.m, got, tt.wantSeq)
		}
		if got := tt.m.Data(0xAA); got != tt.wantData {
			t.Errorf("%v Data(0xAA) = 0x%X, want 0x%X", tt.m, got, tt.wantData)
		}
	}

	erase := MethodAAA.SectorEraseSequence(0x20000)
	if len(erase) != 6 || erase[5] != (protocol.Command{Addr: 0x20000, Data: 0x30}) {
		t.Errorf("SectorEraseSequence() = %v, want 0x30 at the sector", erase)
	}
	chip := Method555.ChipEraseSequence()
	if len(chip) != 6 || chip[2].Data != 0x80 || chip[5] != (protocol.Command{Addr: 0x555, Data: 0x10}) {
		t.Errorf("ChipEraseSequence() = %v", chip)
	}
	if got := MethodIntel.AutoselectSequence(); len(got) != 1 || got[0].Data != 0x90 {
		t.Errorf("Intel AutoselectSequence() = %v, want a single 0x90", got)
	}
}
