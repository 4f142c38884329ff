package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestMemory_GetMissingKeyReturnsNil(t *testing.T) {
	kv := NewMemory()

	v, err := kv.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if v != nil {
		t.Errorf("Get for missing key = %v, want nil", v)
	}
}

func TestMemory_SetThenGet(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	if err := kv.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	v, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !bytes.Equal(v, []byte(`{"a":1}`)) {
		t.Errorf("Get = %q, want %q", v, `{"a":1}`)
	}
}

func TestMemory_Overwrite(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	kv.Set(ctx, "k", []byte("old"))
	kv.Set(ctx, "k", []byte("new"))

	v, _ := kv.Get(ctx, "k")
	if string(v) != "new" {
		t.Errorf("Get after overwrite = %q, want %q", v, "new")
	}
}

func TestMemory_Delete(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	kv.Set(ctx, "k", []byte("v"))
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	v, _ := kv.Get(ctx, "k")
	if v != nil {
		t.Errorf("Get after delete = %v, want nil", v)
	}

	// 存在しないキーの削除はエラーにならない
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of missing key returned error: %v", err)
	}
}

// 返却値の書き換えが保存済みデータに影響しないことを検証
func TestMemory_GetReturnsCopy(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	kv.Set(ctx, "k", []byte("abc"))

	v, _ := kv.Get(ctx, "k")
	v[0] = 'X'

	again, _ := kv.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated via returned slice: %q", again)
	}
}
