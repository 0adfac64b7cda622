// Command inspect dumps the chat store in a readable table. It opens the
// badger directory read-only, so it is safe to run next to a live server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/repositories"
)

func main() {
	dbPath := flag.String("db", "/tmp/bananachat", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg:, group:, user:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Kind", "At", "Who", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()

			// Name-index entries hold no payload worth rendering.
			if strings.HasPrefix(string(item.Key()), "groupname:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				row, err := rowFor(string(item.Key()), v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", string(item.Key()), err)
					return nil
				}
				table.Append(row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func rowFor(key string, value []byte) ([]string, error) {
	switch {
	case strings.HasPrefix(key, "msg:"):
		var msg domain.Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil, err
		}
		return []string{
			key,
			colorType(string(msg.Type)),
			msg.At.Format("15:04:05.000000000"),
			msg.Sender,
			fmt.Sprintf("seq=%d %s %s", msg.Seq, msg.Scope.Key(), truncate(msg.Content, 60)),
		}, nil
	case strings.HasPrefix(key, "group:"):
		var group domain.GroupChat
		if err := json.Unmarshal(value, &group); err != nil {
			return nil, err
		}
		state := color.Green.Sprint("active")
		if !group.IsActive {
			state = color.Red.Sprint("inactive")
		}
		return []string{
			key,
			string(group.Type),
			group.CreatedAt.Format("15:04:05"),
			group.Owner,
			fmt.Sprintf("%s members=%d %s", group.Name, group.MemberCount(), state),
		}, nil
	case strings.HasPrefix(key, "user:"):
		var user repositories.User
		if err := json.Unmarshal(value, &user); err != nil {
			return nil, err
		}
		return []string{
			key,
			"USER",
			user.LastSeen.Format("2006-01-02 15:04:05"),
			user.Username,
			fmt.Sprintf("first seen %s", user.FirstSeen.Format("2006-01-02")),
		}, nil
	}
	return []string{key, "?", "", "", truncate(string(value), 60)}, nil
}

func colorType(msgType string) string {
	switch msgType {
	case string(domain.MessageJoin):
		return color.Green.Sprint(msgType)
	case string(domain.MessageLeave):
		return color.Yellow.Sprint(msgType)
	case string(domain.MessageSystem):
		return color.Cyan.Sprint(msgType)
	default:
		return msgType
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	return badger.Open(opts)
}
