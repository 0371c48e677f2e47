// Copyright 2020-2022 The Airwave Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const dbAPIversion = 1

func checkDB(dbPath string) error {
	if !fileExist(dbPath) {
		return createDB(dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("PRAGMA user_version;")
	if err != nil {
		return err
	}
	defer rows.Close()

	var version int
	rows.Next()
	if err = rows.Scan(&version); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if version != dbAPIversion {
		return fmt.Errorf("invalid database version: %v", dbPath)
	}

	return nil
}

func createDB(dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("could not create database: %w", err)
	}
	defer db.Close()

	sqlStmt := "create table logs (" +
		"time INTEGER not null," +
		" level INTEGER not null," +
		" src TEXT not null," +
		" conn TEXT," +
		" msg TEXT not null);"

	_, err = db.Exec(sqlStmt)
	if err != nil {
		return fmt.Errorf("could not create table in database: %w", err)
	}

	_, err = db.Exec("PRAGMA user_version = " + strconv.Itoa(dbAPIversion))
	if err != nil {
		return fmt.Errorf("could not set database api version: %w", err)
	}

	return nil
}

// LogToDB saves the log feed to the sqlite database until ctx is
// canceled.
func (l *Logger) LogToDB(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry := <-feed:
			if err := saveEntryToDB(entry, l.db); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v", entry.Msg, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

const maxRows = "100000"

func saveEntryToDB(entry Entry, db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insertStmt, err := tx.Prepare(
		"insert into logs(time, level, src, conn, msg) values(?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer insertStmt.Close()

	_, err = insertStmt.Exec(entry.Time, entry.Level, entry.Src, entry.Conn, entry.Msg)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	// Maintain table size.
	sqlStmt := "DELETE FROM logs WHERE NOT rowid IN " +
		"(SELECT rowid FROM `logs` ORDER BY `time` DESC LIMIT " + maxRows + ");"

	if _, err = tx.Exec(sqlStmt); err != nil {
		return fmt.Errorf("trim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Query defines a database query.
type Query struct {
	Levels  []Level
	Time    UnixMillisecond
	Sources []string
	Conns   []string
	Limit   int
}

// Query for log entries in the database.
func (l *Logger) Query(q Query) ([]Entry, error) {
	sqlStmt := "SELECT time,level,src,conn,msg FROM logs"

	var conds []string
	if len(q.Levels) != 0 {
		conds = append(conds, "level "+genIN(len(q.Levels)))
	}
	if len(q.Sources) != 0 {
		conds = append(conds, "src "+genIN(len(q.Sources)))
	}
	if len(q.Conns) != 0 {
		conds = append(conds, "conn "+genIN(len(q.Conns)))
	}
	if q.Time != 0 {
		conds = append(conds, "time < (?)")
	}
	if len(conds) != 0 {
		sqlStmt += " WHERE " + strings.Join(conds, " AND ")
	}

	sqlStmt += " ORDER BY time DESC"

	if q.Limit != 0 {
		sqlStmt += " LIMIT " + strconv.Itoa(q.Limit)
	}

	stmt, err := l.db.Prepare(sqlStmt)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	args := []interface{}{}
	for _, v := range q.Levels {
		args = append(args, v)
	}
	for _, v := range q.Sources {
		args = append(args, v)
	}
	for _, v := range q.Conns {
		args = append(args, v)
	}
	if q.Time != 0 {
		args = append(args, q.Time)
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return parseRows(rows)
}

func parseRows(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var t UnixMillisecond
		var level uint8
		var src string
		var conn string
		var msg string

		err := rows.Scan(&t, &level, &src, &conn, &msg)
		if err != nil {
			return nil, err
		}

		entries = append(entries, Entry{
			Time:  t,
			Level: Level(level),
			Src:   src,
			Conn:  conn,
			Msg:   msg,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func genIN(n int) string {
	// Input: 1 Output: "IN (?)"
	// Input: 2 Output: "IN (?, ?)"
	output := "IN ("
	for i := 1; i <= n; i++ {
		if i != n {
			output += "?, "
		} else {
			output += "?"
		}
	}
	return output + ")"
}

func fileExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
