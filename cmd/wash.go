package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent/parse"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/sink"
	"github.com/bytedance/sonic"
	"github.com/duke-git/lancet/v2/fileutil"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

var WashApp = &WashCommand{}

type WashCommand struct {
}

func (w *WashCommand) Command() *cli.Command {
	return &cli.Command{
		Name:            "wash",
		Usage:           "washing BililiveRecorder raw xml danmaku data to normalized json lines",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Value:   "./",
				Usage:   "Directory to be processed",
			},
			&cli.BoolFlag{
				Name:    "recursive",
				Aliases: []string{"r"},
				Usage:   "whether to include subdirectories",
				Value:   false,
			},
			&cli.StringFlag{
				Name:    "pattern",
				Aliases: []string{"p"},
				Usage:   "file name pattern to be processed",
				Value:   "^Blive-\\d+-\\d+-\\d+-\\d+-\\S+.xml",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "only file to be processed and force overwrite",
			},
			&cli.BoolFlag{
				Name:  "no-compress",
				Usage: "whether to compress the output file",
				Value: false,
			},
		},
		Action: w.action,
	}
}

func (w *WashCommand) action(c *cli.Context) error {
	var fileList []string
	if onlyFile := c.String("file"); onlyFile != "" {
		fileList = append(fileList, onlyFile)
	} else {
		// adding files
		klog.Infof("scanning dir: %s", c.String("dir"))
		pattern := regexp.MustCompile(c.String("pattern"))
		if c.Bool("recursive") {
			err := filepath.Walk(c.String("dir"), func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && pattern.MatchString(info.Name()) {
					if fileutil.IsExist(strings.TrimSuffix(path, filepath.Ext(path))+".jsonl") ||
						fileutil.IsExist(strings.TrimSuffix(path, filepath.Ext(path))+".jsonl.gz") {
						return nil
					}
					fileList = append(fileList, path)
				}
				return nil
			})
			if err != nil {
				klog.Errorf("walk dir error: %s", err.Error())
				return err
			}
		} else {
			dir := c.String("dir")
			entry, err := os.ReadDir(dir)
			if err != nil {
				klog.Errorf("read dir error: %s", err.Error())
				return err
			}
			for _, e := range entry {
				if e.IsDir() {
					continue
				}
				if pattern.MatchString(e.Name()) {
					if fileutil.IsExist(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))+".jsonl") ||
						fileutil.IsExist(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))+".jsonl.gz") {
						continue
					}
					fileList = append(fileList, filepath.Join(dir, e.Name()))
				}
			}
		}
		klog.Infof("scan finished, %d files found", len(fileList))
	}

	compress := !c.Bool("no-compress")

	for _, f := range fileList {
		w.washer(f, compress)
	}
	return nil
}

// washed data, one meta line followed by event lines
type washed struct {
	meta   BliveMeta
	events []event.Event
	users  map[uint64]string
}

func (w *WashCommand) washer(filename string, compress bool) {
	klog.Infof("processing file: %s", filename)
	srcFp, err := os.Open(filename)
	if err != nil {
		klog.Errorf("open file error: %s", err.Error())
		return
	}
	defer srcFp.Close()

	decoder := xml.NewDecoder(bufio.NewReader(srcFp))
	data := &washed{users: make(map[uint64]string)}
	for {
		token, err := decoder.Token()
		if token == nil && err == io.EOF {
			break
		}
		if err != nil {
			klog.Errorf("decode xml error: %s", err.Error())
			return
		}
		w.attrParse(data, token)
	}
	data.meta.Events = len(data.events)
	data.meta.Users = len(data.users)

	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	var rw io.WriteCloser
	if compress {
		dstFp, err := os.Create(base + ".jsonl.gz")
		if err != nil {
			klog.Errorf("create file error: %s", err.Error())
			return
		}
		defer dstFp.Close()
		rw = gzip.NewWriter(dstFp)
	} else {
		rw, err = os.Create(base + ".jsonl")
		if err != nil {
			klog.Errorf("create file error: %s", err.Error())
			return
		}
	}
	defer rw.Close()
	if err := sonic.ConfigDefault.NewEncoder(rw).Encode(data.meta); err != nil {
		klog.Errorf("encode meta error: %s", err.Error())
		return
	}
	out := sink.NewWriter(rw, nil)
	for _, evt := range data.events {
		if err := out.Deliver(context.Background(), evt); err != nil {
			klog.Errorf("encode event error: %s", err.Error())
			return
		}
	}
	klog.Infof("washed %d events from %d users", data.meta.Events, data.meta.Users)
}

func rawAttr(t xml.StartElement) (string, bool) {
	for _, attr := range t.Attr {
		if attr.Name.Local == "raw" {
			return attr.Value, true
		}
	}
	return "", false
}

func (w *WashCommand) attrParse(data *washed, token xml.Token) {
	t, ok := token.(xml.StartElement)
	if !ok {
		return
	}
	switch t.Name.Local {
	case "BililiveRecorder":
		for _, attr := range t.Attr {
			if attr.Name.Local == "version" {
				data.meta.RecorderVersion = attr.Value
			}
		}
		return
	case "BililiveRecorderRecordInfo":
		for _, attr := range t.Attr {
			switch attr.Name.Local {
			case "roomid":
				data.meta.RoomID, _ = strconv.ParseUint(attr.Value, 10, 64)
			case "shortid":
				data.meta.ShortRoomID, _ = strconv.ParseUint(attr.Value, 10, 64)
			case "name":
				data.meta.Name = attr.Value
			case "title":
				data.meta.Title = attr.Value
			case "areanameparent":
				data.meta.AreaNameParent = attr.Value
			case "areanamechild":
				data.meta.AreaNameChild = attr.Value
			case "start_time":
				data.meta.StartTime, _ = time.Parse(time.RFC3339, attr.Value)
			}
		}
		return
	}
	raw, ok := rawAttr(t)
	if !ok {
		return
	}
	var payload event.Payload
	switch t.Name.Local {
	case "d":
		// danmaku, raw is the info array
		d := parse.Danmu(raw)
		w.updateUser(data, d.UID, d.Uname)
		payload = d
	case "gift":
		g := parse.Gift(raw)
		w.updateUser(data, g.UID, g.Uname)
		payload = g
	case "sc":
		sc := parse.SuperChat(raw)
		w.updateUser(data, sc.UID, sc.Uname)
		payload = sc
	case "guard":
		g := parse.Guard(raw)
		w.updateUser(data, g.UID, g.Uname)
		payload = g
	default:
		return
	}
	data.events = append(data.events, event.New(data.meta.RoomID, payload))
}

func (w *WashCommand) updateUser(data *washed, uid uint64, uname string) {
	if uid == 0 {
		return
	}
	data.users[uid] = uname
}
