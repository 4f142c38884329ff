package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// gatewayMessage はゲートウェイとのWebSocketメッセージ。
// opで種別を判別し、他のフィールドは種別に応じて使用する。
type gatewayMessage struct {
	Op             string `json:"op"`
	NamePrefix     string `json:"namePrefix,omitempty"`
	Name           string `json:"name,omitempty"`
	Service        string `json:"service,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Payload        string `json:"payload,omitempty"`
	Error          string `json:"error,omitempty"`
}

const (
	opScan      = "scan"
	opFound     = "found"
	opSubscribe = "subscribe"
	opOK        = "ok"
	opNotify    = "notify"
	opError     = "error"
)

// GatewayScanner はBLEゲートウェイ経由でペリフェラルを探索するScanner実装。
// ゲートウェイはBLEアダプタを持つ常駐プロセスで、WebSocketで
// scan/subscribe操作と通知の転送を提供する。
type GatewayScanner struct {
	endpoint string
	dialer   *websocket.Dialer
}

// NewGatewayScanner はGatewayScannerを生成する。
func NewGatewayScanner(endpoint string) *GatewayScanner {
	return &GatewayScanner{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
	}
}

var _ Scanner = (*GatewayScanner)(nil)

// Scan はゲートウェイへ接続し、namePrefixで始まるペリフェラルを探索する。
func (g *GatewayScanner) Scan(ctx context.Context, namePrefix string) (Peripheral, error) {
	conn, _, err := g.dialer.DialContext(ctx, g.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ゲートウェイへの接続に失敗しました: %w", err)
	}

	if err := conn.WriteJSON(gatewayMessage{Op: opScan, NamePrefix: namePrefix}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("探索要求の送信に失敗しました: %w", err)
	}

	var msg gatewayMessage
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("探索応答の受信に失敗しました: %w", err)
	}
	if msg.Op != opFound {
		_ = conn.Close()
		return nil, fmt.Errorf("ペリフェラルが見つかりませんでした: %s", msg.Error)
	}

	return &gatewayPeripheral{conn: conn, name: msg.Name}, nil
}

// gatewayPeripheral はゲートウェイが発見したペリフェラル。
// 探索に使用したWebSocket接続をそのままセッションとして引き継ぐ。
type gatewayPeripheral struct {
	conn *websocket.Conn
	name string
}

var _ Peripheral = (*gatewayPeripheral)(nil)

func (p *gatewayPeripheral) Name() string {
	return p.name
}

// Connect はゲートウェイ上のセッションをDeviceとして返す。
// WebSocket接続自体は探索時に確立済みのため、ここでは状態の引き渡しのみ行う。
func (p *gatewayPeripheral) Connect(ctx context.Context) (Device, error) {
	return &gatewayDevice{conn: p.conn}, nil
}

// gatewayDevice はゲートウェイ経由の接続済みセッション。
type gatewayDevice struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

var _ Device = (*gatewayDevice)(nil)

// Subscribe は購読要求を送信し、通知の読み取りループを起動する。
func (d *gatewayDevice) Subscribe(ctx context.Context, serviceUUID, characteristicUUID string, handler func(payload []byte)) error {
	if err := d.conn.WriteJSON(gatewayMessage{
		Op:             opSubscribe,
		Service:        serviceUUID,
		Characteristic: characteristicUUID,
	}); err != nil {
		return fmt.Errorf("購読要求の送信に失敗しました: %w", err)
	}

	var msg gatewayMessage
	if err := d.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("購読応答の受信に失敗しました: %w", err)
	}
	if msg.Op != opOK {
		return fmt.Errorf("購読が拒否されました: %s", msg.Error)
	}

	go d.readLoop(handler)
	return nil
}

// readLoop は通知フレームを受信してhandlerへ渡し続ける。
// 接続が閉じられると終了する。
func (d *gatewayDevice) readLoop(handler func(payload []byte)) {
	for {
		var msg gatewayMessage
		if err := d.conn.ReadJSON(&msg); err != nil {
			d.mu.Lock()
			closed := d.closed
			d.mu.Unlock()
			if !closed {
				slog.Warn("ゲートウェイとの接続が切断されました",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if msg.Op != opNotify {
			continue
		}
		handler([]byte(msg.Payload))
	}
}

func (d *gatewayDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.conn.Close()
}
