package evidence

import (
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
)

func TestRedisWritePlanTracksNonce(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	nonce := "20250901080000-aaaaaa"
	in := payload{Name: "plan", Value: 1}
	data, _ := json.MarshalIndent(in, "", "  ")

	mock.ExpectSet("canary:"+nonce+":plan", data, 0).SetVal("OK")
	mock.ExpectZAdd(redisNonceSet, &redis.Z{Score: 0, Member: nonce}).SetVal(1)

	if err := s.Write(nonce, KindPlan, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisWriteNonPlanSkipsNonceSet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	nonce := "20250901080000-aaaaaa"
	in := payload{Name: "latency"}
	data, _ := json.MarshalIndent(in, "", "  ")

	mock.ExpectSet("canary:"+nonce+":latency", data, 0).SetVal("OK")

	if err := s.Write(nonce, KindLatency, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisLatestNonce(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	mock.ExpectZRevRange(redisNonceSet, 0, 0).SetVal([]string{"20250901090000-bbbbbb"})

	got, ok := s.LatestNonce()
	if !ok || got != "20250901090000-bbbbbb" {
		t.Errorf("LatestNonce = %q/%v", got, ok)
	}
}

func TestRedisLatestNonceEmpty(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	mock.ExpectZRevRange(redisNonceSet, 0, 0).SetVal([]string{})

	if _, ok := s.LatestNonce(); ok {
		t.Error("empty nonce set returned true")
	}
}

func TestRedisRead(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	nonce := "20250901080000-aaaaaa"
	mock.ExpectGet("canary:" + nonce + ":latency").SetVal(`{"name":"ack","value":812.5}`)

	var out payload
	if !s.Read(nonce, KindLatency, &out) {
		t.Fatal("read reported missing artifact")
	}
	if out.Name != "ack" || out.Value != 812.5 {
		t.Errorf("read got %+v", out)
	}
}

func TestRedisReadMissingAndCorrupt(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	mock.ExpectGet("canary:n1:plan").RedisNil()
	mock.ExpectGet("canary:n2:plan").SetVal("{corrupt")

	var out payload
	if s.Read("n1", KindPlan, &out) {
		t.Error("missing key returned true")
	}
	if s.Read("n2", KindPlan, &out) {
		t.Error("corrupt value returned true")
	}
}
