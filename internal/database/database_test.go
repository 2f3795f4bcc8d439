package database

import "testing"

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/photos?sslmode=disable":   "pgx5://u:p@db:5432/photos?sslmode=disable",
		"postgresql://u:p@db:5432/photos?sslmode=disable": "pgx5://u:p@db:5432/photos?sslmode=disable",
		"pgx5://u:p@db/photos":                            "pgx5://u:p@db/photos",
	}
	for in, want := range cases {
		if got := MigrateURL(in); got != want {
			t.Fatalf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
