package walletstore

import (
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.etcd.io/bbolt"
)

var (
	settingsV1 = DefineEntity("Settings", func(b *EntityBuilder) {
		b.Singleton()
		b.Field("language", KindString, Default("en"))
		b.Field("autoLock", KindInt, Default(5))
		b.Field("memoAlert", KindBool, Default(true))
	})
	walletV1 = DefineEntity("Wallet", func(b *EntityBuilder) {
		b.PrimaryKey("address")
		b.Field("address", KindString)
		b.Field("label", KindString, Optional())
		b.Field("balance", KindDecimal, Default("0"))
	})
	noteV1 = DefineEntity("Note", func(b *EntityBuilder) {
		b.Field("text", KindString)
	})

	settingsV2 = DefineEntity("Settings", func(b *EntityBuilder) {
		b.Extend(settingsV1, "memoAlert")
		b.Field("theme", KindString, Default("light"))
	})
	walletV2 = DefineEntity("Wallet", func(b *EntityBuilder) {
		b.Extend(walletV1)
		b.Field("hidden", KindBool, Default(false))
		b.Field("order", KindInt)
	})

	walletV3 = DefineEntity("Wallet", func(b *EntityBuilder) {
		b.Extend(walletV2)
		b.Field("tags", KindList, Optional())
	})
)

type migrationHooks struct {
	mu        sync.Mutex
	calls     map[uint64]int
	failAt    uint64
	started   chan struct{}
	block     chan struct{}
	notesSeen int
}

func (h *migrationHooks) enter(ver uint64) error {
	h.mu.Lock()
	if h.calls == nil {
		h.calls = make(map[uint64]int)
	}
	h.calls[ver]++
	h.mu.Unlock()
	if h.started != nil {
		close(h.started)
		h.started = nil
		<-h.block
	}
	if ver == h.failAt {
		return errors.New("injected failure")
	}
	return nil
}

func (h *migrationHooks) callsTo(ver uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[ver]
}

func testRegistry(maxVer uint64, h *migrationHooks) *Registry {
	if h == nil {
		h = &migrationHooks{}
	}
	v1 := NewVersion(1, nil, settingsV1, walletV1, noteV1)
	v2 := NewVersion(2, func(m *Migration) error {
		if err := h.enter(2); err != nil {
			return err
		}
		for i, w := range m.Objects("Wallet") {
			w["order"] = int64(i)
		}
		if old := m.Old("Settings"); len(old) == 1 && !old[0].Bool("memoAlert") {
			m.Object("Settings")["theme"] = "dark"
		}
		return nil
	}, settingsV2, walletV2, noteV1)
	v3 := NewVersion(3, func(m *Migration) error {
		if err := h.enter(3); err != nil {
			return err
		}
		h.notesSeen = len(m.Old("Note"))
		for _, w := range m.Objects("Wallet") {
			if w.String("label") == "junk" {
				m.Remove("Wallet", w.String("address"))
			}
		}
		return nil
	}, settingsV2, walletV3)

	all := []*SchemaVersion{v1, v2, v3}
	return MustRegistry(all[:maxVer]...)
}

var testMetadata = map[string][]string{
	"Wallet": {"localNote"},
}

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func TestStore_FreshStoreStartsAtLatest(t *testing.T) {
	path := tempPath(t)
	h := &migrationHooks{}
	s := openAt(t, path, testRegistry(3, h))

	deepEqual(t, s.State().Phase, PhaseReady)
	deepEqual(t, s.State().Version, uint64(3))
	deepEqual(t, h.callsTo(2)+h.callsTo(3), 0)

	settings := must(s.Get("Settings", ""))
	deepEqual(t, settings.String("language"), "en")
	deepEqual(t, settings.Int("autoLock"), int64(5))
	deepEqual(t, settings.String("theme"), "light")
	deepEqual(t, settings.Has("memoAlert"), false)
	deepEqual(t, must(s.Count("Wallet")), 0)

	ensure(s.Close())
	info := must(Inspect(path))
	deepEqual(t, info.Found, true)
	deepEqual(t, info.Marker.Version, uint64(3))
	deepEqual(t, info.Marker.Fingerprint, testRegistry(3, nil).Latest().Fingerprint())
	deepEqual(t, info.Entities, map[string]int{"Settings": 1, "Wallet": 0})
}

func TestStore_MigratesStepByStep(t *testing.T) {
	path := tempPath(t)

	s := openAt(t, path, testRegistry(1, nil))
	must(s.Write("Wallet", Record{"address": "rA", "label": "Main", "balance": "1.5", "localNote": "keep me"}))
	must(s.Write("Wallet", Record{"address": "rB", "label": "junk"}))
	must(s.Write("Note", Record{"text": "hello"}))
	must(s.Write("Settings", Record{"memoAlert": false, "language": "de"}))
	ensure(s.Close())

	h := &migrationHooks{}
	s = openAt(t, path, testRegistry(3, h))
	deepEqual(t, s.State().Version, uint64(3))
	deepEqual(t, h.callsTo(2), 1)
	deepEqual(t, h.callsTo(3), 1)
	deepEqual(t, h.notesSeen, 1)

	wallets := must(s.Read("Wallet", nil))
	if len(wallets) != 1 {
		t.Fatalf("** got %d wallets, wanted 1", len(wallets))
	}
	w := wallets[0]
	deepEqual(t, w.String("address"), "rA")
	deepEqual(t, w.String("label"), "Main")
	deepEqual(t, w.Decimal("balance").String(), "1.5")
	deepEqual(t, w.Int("order"), int64(0))
	deepEqual(t, w.Bool("hidden"), false)
	deepEqual(t, w.String("localNote"), "keep me")

	settings := must(s.Get("Settings", ""))
	deepEqual(t, settings.String("language"), "de")
	deepEqual(t, settings.String("theme"), "dark")
	deepEqual(t, settings.Has("memoAlert"), false)

	_, err := s.Get("Note", "1")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("** got %v, wanted ErrValidation for a dropped entity", err)
	}

	ensure(s.Close())
	info := must(Inspect(path))
	deepEqual(t, info.Marker.Version, uint64(3))
	deepEqual(t, info.Entities, map[string]int{"Settings": 1, "Wallet": 1})
}

func TestStore_FailedStepResumesFromLastCommittedVersion(t *testing.T) {
	path := tempPath(t)
	s := openAt(t, path, testRegistry(1, nil))
	must(s.Write("Wallet", Record{"address": "rA"}))
	must(s.Write("Wallet", Record{"address": "rB"}))
	ensure(s.Close())

	h := &migrationHooks{failAt: 3}
	s = New(path, testRegistry(3, h), Options{IsTesting: true, MetadataFields: testMetadata})
	err := s.Open()
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("** got %v, wanted *OpenError", err)
	}
	deepEqual(t, oe.Reason, ReasonMigrationFailed)
	if !errors.Is(err, ErrMigrationStepFailed) {
		t.Errorf("** got %v, wanted ErrMigrationStepFailed", err)
	}
	var me *MigrationError
	if !errors.As(err, &me) {
		t.Fatalf("** got %v, wanted *MigrationError", err)
	}
	deepEqual(t, me.Version, uint64(3))
	deepEqual(t, s.State().Phase, PhaseFailed)

	_, err = s.Get("Wallet", "rA")
	deepEqual(t, err, ErrNotReady)

	info := must(Inspect(path))
	deepEqual(t, info.Marker.Version, uint64(2))

	h2 := &migrationHooks{}
	s = openAt(t, path, testRegistry(3, h2))
	deepEqual(t, h2.callsTo(2), 0)
	deepEqual(t, h2.callsTo(3), 1)
	deepEqual(t, must(s.Get("Wallet", "rB")).Int("order"), int64(1))
}

func TestStore_RetryAfterFailureOnSameStore(t *testing.T) {
	path := tempPath(t)
	ensure(openAt(t, path, testRegistry(1, nil)).Close())

	h := &migrationHooks{failAt: 2}
	s := New(path, testRegistry(2, h), Options{IsTesting: true})
	if err := s.Open(); !errors.Is(err, ErrMigrationStepFailed) {
		t.Fatalf("** got %v, wanted ErrMigrationStepFailed", err)
	}
	h.failAt = 0
	ensure(s.Open())
	t.Cleanup(func() { s.Close() })
	deepEqual(t, s.State().Version, uint64(2))
	deepEqual(t, h.callsTo(2), 2)
}

func TestStore_ConcurrentOpenFailsWithAlreadyOpening(t *testing.T) {
	path := tempPath(t)
	ensure(openAt(t, path, testRegistry(1, nil)).Close())

	h := &migrationHooks{started: make(chan struct{}), block: make(chan struct{})}
	started := h.started
	s := New(path, testRegistry(3, h), Options{IsTesting: true})
	t.Cleanup(func() { s.Close() })

	done := make(chan error, 1)
	go func() {
		done <- s.Open()
	}()
	<-started

	state := s.State()
	deepEqual(t, state.Phase, PhaseMigrating)
	deepEqual(t, state.Step, 1)
	deepEqual(t, state.Steps, 2)
	deepEqual(t, state.Version, uint64(2))

	err := s.Open()
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Reason != ReasonAlreadyOpening || !errors.Is(err, ErrAlreadyOpening) {
		t.Fatalf("** got %v, wanted already-opening", err)
	}

	close(h.block)
	select {
	case err := <-done:
		ensure(err)
	case <-time.After(10 * time.Second):
		t.Fatal("first Open did not finish")
	}
	deepEqual(t, s.State().Phase, PhaseReady)
	deepEqual(t, s.Open(), ErrAlreadyOpen)
}

func TestStore_CorruptStores(t *testing.T) {
	t.Run("newer than latest", func(t *testing.T) {
		path := tempPath(t)
		ensure(openAt(t, path, testRegistry(3, nil)).Close())
		expectCorrupt(t, path, testRegistry(2, nil))
	})
	t.Run("fingerprint mismatch", func(t *testing.T) {
		path := tempPath(t)
		ensure(openAt(t, path, testRegistry(1, nil)).Close())
		other := MustRegistry(NewVersion(1, nil, settingsV1, walletV1))
		expectCorrupt(t, path, other)
	})
	t.Run("data without marker", func(t *testing.T) {
		path := tempPath(t)
		bdb := must(bbolt.Open(path, 0600, nil))
		ensure(bdb.Update(func(btx *bbolt.Tx) error {
			b, err := btx.CreateBucket([]byte(entityBucket("Wallet")))
			if err != nil {
				return err
			}
			return b.Put([]byte("rA"), []byte{1, 1, 0x80})
		}))
		ensure(bdb.Close())
		expectCorrupt(t, path, testRegistry(3, nil))
	})
	t.Run("undecodable record", func(t *testing.T) {
		path := tempPath(t)
		ensure(openAt(t, path, testRegistry(1, nil)).Close())
		bdb := must(bbolt.Open(path, 0600, nil))
		ensure(bdb.Update(func(btx *bbolt.Tx) error {
			return btx.Bucket([]byte(entityBucket("Wallet"))).Put([]byte("rA"), []byte{9, 9, 9})
		}))
		ensure(bdb.Close())
		expectCorrupt(t, path, testRegistry(2, nil))
		deepEqual(t, must(Inspect(path)).Marker.Version, uint64(1))
	})
	t.Run("mistyped record", func(t *testing.T) {
		path := tempPath(t)
		ensure(openAt(t, path, testRegistry(1, nil)).Close())
		bdb := must(bbolt.Open(path, 0600, nil))
		ensure(bdb.Update(func(btx *bbolt.Tx) error {
			raw := append([]byte{1, 1}, encodeMsgPack(map[string]any{"address": "rA", "balance": true})...)
			return btx.Bucket([]byte(entityBucket("Wallet"))).Put([]byte("rA"), raw)
		}))
		ensure(bdb.Close())

		h := &migrationHooks{}
		expectCorrupt(t, path, testRegistry(2, h))
		deepEqual(t, h.callsTo(2), 0)
		deepEqual(t, must(Inspect(path)).Marker.Version, uint64(1))
	})
}

func TestStore_WriteValidation(t *testing.T) {
	s := setup(t, testRegistry(3, nil))

	tests := []struct {
		name   string
		entity string
		rec    Record
	}{
		{"unknown entity", "Note", Record{"text": "x"}},
		{"undeclared field", "Wallet", Record{"address": "rA", "nickname": "x"}},
		{"wrong kind", "Wallet", Record{"address": "rA", "hidden": "yes"}},
		{"bad decimal", "Wallet", Record{"address": "rA", "order": int64(1), "balance": "lots"}},
		{"null required", "Wallet", Record{"address": "rA", "order": nil}},
		{"missing required", "Wallet", Record{"address": "rA"}},
		{"missing primary key", "Wallet", Record{"order": int64(1)}},
		{"id on keyed entity", "Wallet", Record{IDField: "1", "address": "rA", "order": int64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Write(tt.entity, tt.rec)
			var ve *ValidationError
			if !errors.As(err, &ve) || !errors.Is(err, ErrValidation) {
				t.Fatalf("** got %v, wanted *ValidationError", err)
			}
		})
	}
	deepEqual(t, must(s.Count("Wallet")), 0)

	w := must(s.Write("Wallet", Record{"address": "rA", "order": 7, "label": nil, "localNote": "n"}))
	deepEqual(t, w.Int("order"), int64(7))
	deepEqual(t, w.Decimal("balance").String(), "0")
	deepEqual(t, w.String("localNote"), "n")

	w = must(s.Write("Wallet", Record{"address": "rA", "label": "Main"}))
	deepEqual(t, w.Int("order"), int64(7))
	deepEqual(t, w.String("label"), "Main")
}

func TestStore_SequenceIDs(t *testing.T) {
	s := setup(t, testRegistry(1, nil))

	n1 := must(s.Write("Note", Record{"text": "a"}))
	n2 := must(s.Write("Note", Record{"text": "b"}))
	deepEqual(t, n1.String(IDField), "1")
	deepEqual(t, n2.String(IDField), "2")

	must(s.Write("Note", Record{IDField: "1", "text": "c"}))
	deepEqual(t, must(s.Get("Note", "1")).String("text"), "c")

	_, err := s.Write("Note", Record{IDField: "99", "text": "d"})
	if !IsNotFound(err) {
		t.Errorf("** got %v, wanted not found", err)
	}

	ensure(s.Remove("Note", "1"))
	err = s.Remove("Note", "1")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Key != "1" {
		t.Errorf("** got %v, wanted *NotFoundError", err)
	}
	deepEqual(t, must(s.Count("Note")), 1)
}

func TestTx_CountSeesUncommittedWrites(t *testing.T) {
	s := setup(t, testRegistry(3, nil))
	must(s.Write("Wallet", Record{"address": "rA", "order": 1}))

	ensure(s.Update(func(tx *Tx) error {
		must(tx.Write("Wallet", Record{"address": "rB", "order": 2}))
		must(tx.Write("Wallet", Record{"address": "rC", "order": 3}))
		deepEqual(t, must(tx.Count("Wallet")), 3)
		deepEqual(t, len(must(tx.Read("Wallet", nil))), 3)

		ensure(tx.Remove("Wallet", "rA"))
		deepEqual(t, must(tx.Count("Wallet")), 2)
		return nil
	}))
	deepEqual(t, must(s.Count("Wallet")), 2)
}

func TestStore_FailedUpdateLeavesNoTrace(t *testing.T) {
	s := setup(t, testRegistry(3, nil))

	var notified int
	s.Subscribe("Wallet", func(chg *Change) error {
		notified++
		return nil
	})

	err := s.Update(func(tx *Tx) error {
		must(tx.Write("Wallet", Record{"address": "rA", "order": 1}))
		return errors.New("nope")
	})
	deepEqual(t, err.Error(), "nope")
	deepEqual(t, notified, 0)
	if _, err := s.Get("Wallet", "rA"); !IsNotFound(err) {
		t.Errorf("** got %v, wanted not found", err)
	}

	err = s.Update(func(tx *Tx) error {
		panic("boom")
	})
	if err == nil {
		t.Errorf("** got nil, wanted panic error")
	}

	err = s.View(func(tx *Tx) error {
		_, err := tx.Write("Wallet", Record{"address": "rA", "order": 1})
		return err
	})
	deepEqual(t, err, ErrReadOnlyTx)
}

func TestStore_ListenersSeeChangesInCommitOrder(t *testing.T) {
	s := setup(t, testRegistry(3, nil))

	var log []string
	record := func(chg *Change) error {
		log = append(log, chg.String())
		return nil
	}
	s.Subscribe("Wallet", func(chg *Change) error {
		panic("listener bug")
	})
	s.Subscribe("Wallet", record)
	cancel := s.Subscribe("Wallet.default", record)

	ensure(s.Update(func(tx *Tx) error {
		must(tx.Write("Wallet", Record{"address": "rA", "order": 1}))
		tx.Emit("Wallet.default", "rA", Record{"address": "rA"})
		must(tx.Write("Wallet", Record{"address": "rA", "label": "x"}))
		return tx.Remove("Wallet", "rA")
	}))
	deepEqual(t, log, []string{"put Wallet/rA", "event Wallet.default/rA", "put Wallet/rA", "delete Wallet/rA"})

	cancel()
	log = nil
	ensure(s.Update(func(tx *Tx) error {
		tx.Emit("Wallet.default", "rB", nil)
		return nil
	}))
	isempty(t, log)
}

func TestStore_ListenersGetTheirOwnRow(t *testing.T) {
	s := setup(t, testRegistry(3, nil))

	s.Subscribe("Wallet", func(chg *Change) error {
		chg.Row()["label"] = "tampered"
		if chg.HasOldRow() {
			chg.OldRow()["label"] = "tampered"
		}
		return nil
	})
	var labels, oldLabels []string
	s.Subscribe("Wallet", func(chg *Change) error {
		labels = append(labels, chg.Row().String("label"))
		oldLabels = append(oldLabels, chg.OldRow().String("label"))
		return nil
	})

	must(s.Write("Wallet", Record{"address": "rA", "label": "a", "order": 1}))
	must(s.Write("Wallet", Record{"address": "rA", "label": "b"}))
	deepEqual(t, labels, []string{"a", "b"})
	deepEqual(t, oldLabels, []string{"", "a"})
	deepEqual(t, must(s.Get("Wallet", "rA")).String("label"), "b")
}

func TestChange_Accessors(t *testing.T) {
	s := setup(t, testRegistry(3, nil))

	var got []*Change
	s.Subscribe("Wallet", func(chg *Change) error {
		got = append(got, chg)
		return nil
	})
	must(s.Write("Wallet", Record{"address": "rA", "order": 1}))
	must(s.Write("Wallet", Record{"address": "rA", "order": 2}))
	ensure(s.Remove("Wallet", "rA"))

	if len(got) != 3 {
		t.Fatalf("** got %d changes, wanted 3", len(got))
	}
	if !got[0].IsCreate() || !got[0].HasRow() || got[0].HasOldRow() || got[0].Entity() != "Wallet" {
		t.Errorf("change[0] fields not set as expected: %v", got[0])
	}
	if got[1].IsCreate() || got[1].OldRow().Int("order") != 1 || got[1].Row().Int("order") != 2 {
		t.Errorf("change[1] fields not set as expected: %v", got[1])
	}
	if got[2].Op() != OpDelete || got[2].HasRow() || got[2].Key() != "rA" {
		t.Errorf("change[2] fields not set as expected: %v", got[2])
	}
	deepEqual(t, OpEvent.String(), "event")
}

func TestStore_NotReady(t *testing.T) {
	s := New("", testRegistry(1, nil), Options{IsTesting: true})
	deepEqual(t, s.State().Phase, PhaseUnopened)
	_, err := s.Read("Wallet", nil)
	deepEqual(t, err, ErrNotReady)

	ensure(s.Open())
	ensure(s.Close())
	_, err = s.Count("Wallet")
	deepEqual(t, err, ErrNotReady)
}

func TestTx_DumpAndStats(t *testing.T) {
	s := setup(t, testRegistry(1, nil))
	must(s.Write("Wallet", Record{"address": "rA", "label": "Main"}))

	ensure(s.View(func(tx *Tx) error {
		st := must(tx.EntityStats("Wallet"))
		deepEqual(t, st.Records, 1)
		deepEqual(t, st.Versions, map[uint64]int{1: 1})

		dump := tx.Dump(DumpMarker | DumpRecords)
		deepEqual(t, dump, "marker = v1 ("+hex16(tx.Schema().Fingerprint())+")\n"+
			`Settings.1 = (s1) 1: {"autoLock":5,"language":"en","memoAlert":true}`+"\n"+
			`Wallet.1 = (s1) rA: {"address":"rA","balance":"0","label":"Main"}`+"\n")
		return nil
	}))
}

func tempPath(t testing.TB) string {
	return filepath.Join(t.TempDir(), "wallet.db")
}

func openAt(t testing.TB, path string, reg *Registry) *Store {
	t.Helper()
	s := New(path, reg, Options{IsTesting: true, MetadataFields: testMetadata})
	ensure(s.Open())
	t.Cleanup(func() { s.Close() })
	return s
}

func setup(t testing.TB, reg *Registry) *Store {
	t.Helper()
	path := tempPath(t)
	t.Logf("DB: %s", path)
	return openAt(t, path, reg)
}

func expectCorrupt(t testing.TB, path string, reg *Registry) {
	t.Helper()
	s := New(path, reg, Options{IsTesting: true})
	err := s.Open()
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Reason != ReasonCorruptStore || !errors.Is(err, ErrCorruptStore) {
		t.Fatalf("** got %v, wanted corrupt-store", err)
	}
	deepEqual(t, s.State().Phase, PhaseFailed)
}

func hex16(v uint64) string {
	const digits = "0123456789abcdef"
	var buf [16]byte
	for i := 15; i >= 0; i-- {
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[:])
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}
