// Package signal はシグナル取り込みブリッジを提供する。
// 外部の無線通知チャネル（BLEビーコン付きリサイクルボックス）からの
// 通知ペイロードを解釈し、認識されたトークンをリワード台帳へ転送する。
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/greenpoints/internal/model"
)

// 対向ペリフェラルの固定識別子。
const (
	// ServiceUUID はシグナル通知サービスのUUID。
	ServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"

	// CharacteristicUUID は通知キャラクタリスティックのUUID。
	CharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"

	// TokenBottle はボトル投入を表す唯一の認識トークン。
	TokenBottle = "B"
)

// State はブリッジの接続状態。
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateScanning     State = "SCANNING"
	StateConnecting   State = "CONNECTING"
	StateLive         State = "LIVE"
)

// Peripheral は発見されたペリフェラルを表す。
type Peripheral interface {
	// Name はアドバタイズされた名前を返す。
	Name() string

	// Connect はペリフェラルとのセッションを開く。
	Connect(ctx context.Context) (Device, error)
}

// Device は接続済みペリフェラルとのセッションを表す。
type Device interface {
	// Subscribe は指定サービス/キャラクタリスティックの通知を購読する。
	// 受信した各ペイロードはhandlerへ渡される。
	Subscribe(ctx context.Context, serviceUUID, characteristicUUID string, handler func(payload []byte)) error

	// Close はセッションを閉じる。
	Close() error
}

// Scanner は名前プレフィックスによるペリフェラルの探索を行う。
type Scanner interface {
	// Scan はnamePrefixで始まる名前のペリフェラルを1台探索する。
	Scan(ctx context.Context, namePrefix string) (Peripheral, error)
}

// SignalRecorder はシグナル受信メトリクスの記録インターフェース。
type SignalRecorder interface {
	RecordSignal(token string)
	RecordSignalDropped()
}

// Bridge は無線リンク上の接続状態機械。
// DISCONNECTED → SCANNING → CONNECTING → LIVE と遷移し、
// いずれかの段階で失敗した場合はDISCONNECTEDへ戻る。
// 切断後の自動再接続は行わない。再接続は明示的なConnect呼び出しによる。
type Bridge struct {
	scanner    Scanner
	recorder   SignalRecorder
	namePrefix string

	mu     sync.Mutex
	state  State
	device Device

	// OnSignal は認識されたトークンの受信ごとに呼ばれるコールバック。
	// countは常に1。Connectの前に設定すること。
	OnSignal func(count int)
}

// NewBridge はBridgeを生成する。recorderはnil可。
// scannerがnilの場合、ConnectはSIGNAL_UNSUPPORTEDを返す。
func NewBridge(scanner Scanner, recorder SignalRecorder, namePrefix string) *Bridge {
	return &Bridge{
		scanner:    scanner,
		recorder:   recorder,
		namePrefix: namePrefix,
		state:      StateDisconnected,
	}
}

// State は現在の接続状態を返す。
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Connect はペリフェラルを探索して接続し、通知の購読を開始する。
// 成功するとLIVE状態になる。失敗した場合はDISCONNECTEDへ戻り、
// 再試行可能なCONNECTION_FAILEDを返す。
func (b *Bridge) Connect(ctx context.Context) error {
	if b.scanner == nil {
		return model.NewSignalUnsupportedError()
	}

	b.mu.Lock()
	if b.state != StateDisconnected {
		b.mu.Unlock()
		return fmt.Errorf("接続処理が既に進行中です: state=%s", b.state)
	}
	b.state = StateScanning
	b.mu.Unlock()

	peripheral, err := b.scanner.Scan(ctx, b.namePrefix)
	if err != nil {
		b.fail("ペリフェラルの探索に失敗しました", err)
		return model.NewConnectionFailedError()
	}

	b.setState(StateConnecting)

	device, err := peripheral.Connect(ctx)
	if err != nil {
		b.fail("ペリフェラルへの接続に失敗しました", err)
		return model.NewConnectionFailedError()
	}

	if err := device.Subscribe(ctx, ServiceUUID, CharacteristicUUID, b.handleNotification); err != nil {
		_ = device.Close()
		b.fail("通知の購読に失敗しました", err)
		return model.NewConnectionFailedError()
	}

	b.mu.Lock()
	b.state = StateLive
	b.device = device
	b.mu.Unlock()

	slog.Info("シグナルブリッジが接続されました",
		slog.String("peripheral", peripheral.Name()),
	)

	return nil
}

// Disconnect はセッションを閉じてDISCONNECTEDへ戻す。
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	device := b.device
	b.device = nil
	b.state = StateDisconnected
	b.mu.Unlock()

	if device != nil {
		if err := device.Close(); err != nil {
			return fmt.Errorf("セッションの切断に失敗しました: %w", err)
		}
		slog.Info("シグナルブリッジを切断しました")
	}
	return nil
}

// handleNotification は受信ペイロードを解釈する。
// トリム後の文字列が認識トークンと一致する場合のみOnSignalを発火し、
// それ以外のペイロードは黙って破棄する（前方互換のため）。
func (b *Bridge) handleNotification(payload []byte) {
	token := strings.TrimSpace(string(payload))
	if token != TokenBottle {
		if b.recorder != nil {
			b.recorder.RecordSignalDropped()
		}
		return
	}

	if b.recorder != nil {
		b.recorder.RecordSignal(token)
	}

	if b.OnSignal != nil {
		b.OnSignal(1)
	}
}

func (b *Bridge) setState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

func (b *Bridge) fail(msg string, err error) {
	slog.Warn(msg, slog.String("error", err.Error()))
	b.setState(StateDisconnected)
}
