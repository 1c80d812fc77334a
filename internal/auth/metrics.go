// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Flow names used as metric labels and span names.
const (
	FlowRegister       = "register"
	FlowLogin          = "login"
	FlowLogout         = "logout"
	FlowRefresh        = "refresh"
	FlowChangePassword = "change_password"
	FlowDeleteAccount  = "delete_account"
	FlowProfile        = "profile"
	FlowUnlock         = "unlock"
	FlowChangeUsername = "change_username"
	FlowRequestReset   = "request_reset"
	FlowResetPassword  = "reset_password"
)

// OutcomeSuccess labels a flow that completed without error. Failed flows are
// labelled with their error kind in lower case.
const OutcomeSuccess = "success"

// FlowTotal counts flow executions by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var FlowTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyward_auth_flow_total",
		Help: "Total number of authentication flow executions by outcome",
	},
	[]string{"flow", "outcome"},
)

// FlowDuration observes flow latency, including password hashing.
// Use RegisterMetrics to register this with a Prometheus registry.
var FlowDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "keyward_auth_flow_duration_seconds",
		Help:    "Authentication flow duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"flow"},
)

// Lockouts counts transitions into the Locked state.
// Use RegisterMetrics to register this with a Prometheus registry.
var Lockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keyward_auth_lockouts_total",
		Help: "Total number of accounts locked after repeated failed logins",
	},
)

// CommitRetries counts flows re-run after losing an optimistic concurrency race.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommitRetries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyward_auth_commit_retries_total",
		Help: "Total number of flow retries caused by concurrent account updates",
	},
	[]string{"flow"},
)

// RegisterMetrics registers auth metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(FlowTotal)
	reg.MustRegister(FlowDuration)
	reg.MustRegister(Lockouts)
	reg.MustRegister(CommitRetries)
}

// RecordFlow records the outcome and duration of a flow.
func RecordFlow(flow string, err error, duration time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = kindLabel(KindOf(err))
	}
	FlowTotal.WithLabelValues(flow, outcome).Inc()
	FlowDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

func kindLabel(k Kind) string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountLocked:
		return "account_locked"
	case KindAlreadyLoggedIn:
		return "already_logged_in"
	case KindInvalidToken:
		return "invalid_token"
	case KindInvalidRefreshToken:
		return "invalid_refresh_token"
	case KindPasswordReused:
		return "password_reused"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}
