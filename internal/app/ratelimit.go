package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type accountBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AccountLimiter étrangle les requêtes plateforme par compte, indépendamment
// du nombre de workers : tous les jobs d'un même compte partagent le même
// seau. Le débit est ajustable à chaud via SetRate.
type AccountLimiter struct {
	mu      sync.Mutex
	buckets map[string]*accountBucket
	rate    rate.Limit
	burst   int
}

func NewAccountLimiter(perSec float64, burst int) *AccountLimiter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &AccountLimiter{
		buckets: map[string]*accountBucket{},
		rate:    rate.Limit(perSec),
		burst:   burst,
	}
}

// Wait bloque jusqu'à obtenir un jeton pour le compte, ou l'annulation du
// contexte.
func (l *AccountLimiter) Wait(ctx context.Context, accountID string) error {
	return l.bucket(accountID).Wait(ctx)
}

func (l *AccountLimiter) bucket(accountID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[accountID]
	if !ok {
		b = &accountBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[accountID] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (l *AccountLimiter) SetRate(perSec float64, burst int) {
	if perSec <= 0 || burst <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = rate.Limit(perSec)
	l.burst = burst
	for _, b := range l.buckets {
		b.limiter.SetLimit(l.rate)
		b.limiter.SetBurst(burst)
	}
}

// Evict libère les seaux des comptes inactifs depuis maxIdle.
func (l *AccountLimiter) Evict(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if time.Since(b.lastSeen) > maxIdle {
			delete(l.buckets, id)
		}
	}
}
