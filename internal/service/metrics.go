package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rotationsTotal считает исходы обновления пары по refresh-токену:
// rotated, legacy, reused, fingerprint_mismatch.
var rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auth_token_rotations_total",
	Help: "Исходы ротации refresh-токенов по результату.",
}, []string{"result"})
