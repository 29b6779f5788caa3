package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	createdTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connect_state_created_total",
		Help: "Connect states minted for platform authorization flows.",
	})
	verifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_state_verify_total",
		Help: "Connect state verification outcomes.",
	}, []string{"result"})
)

const (
	verifyResultValid    = "valid"
	verifyResultNotFound = "not_found"
	verifyResultReplay   = "replay"
	verifyResultExpired  = "expired"
	verifyResultError    = "error"
)
