package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mrgun/server/internal/callbacks"
	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/money"
)

func main() {
	configPath := flag.String("config", os.Getenv("MRGUN_CONFIG"), "path to config yaml")
	operator := flag.String("operator", "op_smoke", "operator identifier to send")
	order := flag.String("order", "", "recharge order identifier (generated when empty)")
	amount := flag.String("amount", "100.00", "recharge amount in yuan")
	method := flag.String("method", "wechat", "payment method label")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Callbacks.NotifyURL == "" {
		log.Fatalf("callbacks notify_url is not configured")
	}

	paid, err := money.Parse(*amount)
	if err != nil {
		log.Fatalf("parse amount: %v", err)
	}

	orderID := *order
	if orderID == "" {
		orderID = fmt.Sprintf("rec_smoke_%d", time.Now().Unix())
	}

	event := callbacks.RechargeEvent{
		OrderID:    orderID,
		OperatorID: *operator,
		Amount:     paid,
		Method:     *method,
		Balance:    paid,
		PaidAt:     time.Now().UTC(),
	}

	if err := callbacks.SendOnce(context.Background(), cfg.Callbacks, event); err != nil {
		log.Fatalf("send callback: %v", err)
	}

	fmt.Println("recharge.completed delivered to", cfg.Callbacks.NotifyURL)
}
