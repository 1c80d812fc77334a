//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keyward/keyward/internal/store"
)

var _ = Describe("Migrator against PostgreSQL", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		migrator  *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("keyward_test"),
			postgres.WithUsername("keyward"),
			postgres.WithPassword("keyward"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			Expect(migrator.Close()).To(Succeed())
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("starts at version zero", func() {
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Current.Version).To(BeZero())
		Expect(st.Pending).NotTo(BeEmpty())
	})

	It("applies, steps and reverts the schema", func() {
		steps, err := store.SchemaSteps()
		Expect(err).NotTo(HaveOccurred())
		latest := steps[len(steps)-1].Version

		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest))
		Expect(dirty).To(BeFalse())

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest - 1))

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(migrator.Down()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})

	It("enforces the session pair constraint", func() {
		Expect(migrator.Up()).To(Succeed())

		pool, err := store.OpenPool(ctx, connStr, 3, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { pool.Close() })

		_, err = insertAccount(ctx, pool, "01J00000000000000000000001", "alice", "deadbeef", "")
		Expect(err).To(HaveOccurred())

		_, err = insertAccount(ctx, pool, "01J00000000000000000000002", "bob", "", "")
		Expect(err).NotTo(HaveOccurred())

		_, err = insertAccount(ctx, pool, "01J00000000000000000000003", "BOB", "", "")
		Expect(err).To(HaveOccurred(), "usernames are unique case-insensitively")
	})
})

func insertAccount(ctx context.Context, pool *pgxpool.Pool, id, username, access, refresh string) (int64, error) {
	tag, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, username, first_name, last_name, password_hash,
			last_password_change, access_token_hash, refresh_token_hash)
		VALUES ($1, $2, 'A', 'B', 'hash', now(), $3, $4)`,
		id, username, access, refresh)
	return tag.RowsAffected(), err
}
