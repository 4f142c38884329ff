package session

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/greenpoints/internal/model"
	"github.com/hitoshi/greenpoints/internal/storage"
	"github.com/hitoshi/greenpoints/internal/store"
)

func seedAndSignIn(t *testing.T, st *store.Store, profile model.Profile) {
	t.Helper()
	ctx := context.Background()
	dir, err := st.LoadDirectory(ctx)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	dir[profile.Role][profile.ID] = model.IdentityRecord{Password: "pw", Profile: profile}
	if err := st.SaveDirectory(ctx, dir); err != nil {
		t.Fatalf("SaveDirectory: %v", err)
	}
	if err := st.SaveSession(ctx, profile); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
}

func testProfile() model.Profile {
	return model.Profile{
		ID:       "USR-001",
		Name:     "Taro",
		Role:     model.RoleUser,
		Gender:   model.GenderMale,
		Points:   100,
		Bottles:  4,
		JoinedAt: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestTick_AppliesDirectoryChange(t *testing.T) {
	ctx := context.Background()
	st := store.New(storage.NewMemory())
	profile := testProfile()
	seedAndSignIn(t, st, profile)

	sync := NewSynchronizer(st, nil, time.Second)
	sync.SetCurrent(&profile)

	// 別経路でディレクトリレコードが更新された状況を作る
	dir, err := st.LoadDirectory(ctx)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	rec := dir[model.RoleUser]["USR-001"]
	rec.Profile.Points = 125
	rec.Profile.Bottles = 5
	dir[model.RoleUser]["USR-001"] = rec
	if err := st.SaveDirectory(ctx, dir); err != nil {
		t.Fatalf("SaveDirectory: %v", err)
	}

	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	current := sync.Current()
	if current == nil || current.Points != 125 || current.Bottles != 5 {
		t.Errorf("current not refreshed: %+v", current)
	}

	// 永続化されたセッションにも反映されていること
	session, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if session == nil || session.Points != 125 {
		t.Errorf("persisted session not refreshed: %+v", session)
	}
}

func TestTick_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := store.New(storage.NewMemory())
	profile := testProfile()
	seedAndSignIn(t, st, profile)

	refreshes := 0
	sync := NewSynchronizer(st, nil, time.Second)
	sync.SetCurrent(&profile)
	sync.OnChange = func(model.Profile) { refreshes++ }

	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("Tick #1: %v", err)
	}
	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("Tick #2: %v", err)
	}

	if refreshes != 0 {
		t.Errorf("unchanged directory must not fire OnChange, fired %d times", refreshes)
	}
	current := sync.Current()
	if current == nil || current.Points != 100 {
		t.Errorf("current drifted without directory change: %+v", current)
	}
}

func TestTick_MissingRecordKeepsSession(t *testing.T) {
	ctx := context.Background()
	st := store.New(storage.NewMemory())
	profile := testProfile()
	// ディレクトリには入れず、セッションだけが存在する状況
	if err := st.SaveSession(ctx, profile); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sync := NewSynchronizer(st, nil, time.Second)
	sync.SetCurrent(&profile)

	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if current := sync.Current(); current == nil || current.ID != "USR-001" {
		t.Errorf("current was cleared for a missing record: %+v", current)
	}
	session, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if session == nil {
		t.Errorf("persisted session must survive a missing directory record")
	}
}

func TestTick_NoSessionIsNoOp(t *testing.T) {
	st := store.New(storage.NewMemory())
	sync := NewSynchronizer(st, nil, time.Second)

	if err := sync.Tick(context.Background()); err != nil {
		t.Fatalf("Tick without session should be a no-op: %v", err)
	}
	if sync.Current() != nil {
		t.Errorf("current should remain nil")
	}
}

func TestTick_BootstrapsFromPersistedSession(t *testing.T) {
	ctx := context.Background()
	st := store.New(storage.NewMemory())
	profile := testProfile()
	seedAndSignIn(t, st, profile)

	// SetCurrentを呼ばずに起動した場合、永続セッションから復元する
	sync := NewSynchronizer(st, nil, time.Second)
	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if current := sync.Current(); current == nil || current.ID != "USR-001" {
		t.Errorf("current not bootstrapped from persisted session: %+v", current)
	}
}

// 2つのタブが同じストレージを共有し、片方の加算がもう片方へ伝播するシナリオ。
func TestTick_ConvergesAcrossInstances(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	stA := store.New(kv)
	stB := store.New(kv)

	profile := testProfile()
	seedAndSignIn(t, stA, profile)

	syncB := NewSynchronizer(stB, nil, time.Second)
	syncB.SetCurrent(&profile)

	// タブAが台帳更新を行う
	updated := profile
	updated.Points = 125
	updated.Bottles = 5
	if err := stA.ApplyLedgerUpdate(ctx, updated); err != nil {
		t.Fatalf("ApplyLedgerUpdate: %v", err)
	}

	// タブBのティックで収束する
	if err := syncB.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	current := syncB.Current()
	if current == nil || current.Points != 125 || current.Bottles != 5 {
		t.Errorf("tab B did not converge: %+v", current)
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	st := store.New(storage.NewMemory())
	sync := NewSynchronizer(st, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sync.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Start did not stop on context cancel")
	}
}
