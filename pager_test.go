package ncshark

import (
	"testing"
	"time"
)

func TestPager(t *testing.T) {
	pager := NewPager(0)

	if pager.Used() != 0 {
		t.Errorf("used pages should be 0")
		t.Fail()
	}

	page := pager.Next(time.Now())
	if pager.Used() != 1 {
		t.Errorf("used pages should be 1")
		t.Fail()
	}

	page.Bytes = page.buf[:7]
	copy(page.Bytes, []byte{1, 2, 3, 4, 5, 6, 7})

	pager.Replace(page)
	if pager.Used() != 0 {
		t.Errorf("used pages should be 0")
		t.Fail()
	}

	page = pager.Next(time.Now())
	if len(page.Bytes) != 0 || page.head || page.tail {
		t.Errorf("recycled page was not cleaned: %+v", page.Reassembly)
		t.Fail()
	}

	current := page
	for i := 0; i < 100; i++ {
		current.next = pager.Next(time.Now())
		current.next.prev = current
		current = current.next
	}

	if pager.Used() != 101 {
		t.Errorf("used pages should be 101 but is %d", pager.Used())
		t.Fail()
	}

	pager.ReplaceAllFrom(page)
	if pager.Used() != 0 {
		t.Errorf("used pages should be 0 but is %d", pager.Used())
		t.Fail()
	}
}

func TestPagerLimit(t *testing.T) {
	pager := NewPager(3)
	pages := []*page{}
	for i := 0; i < 3; i++ {
		p := pager.Next(time.Now())
		if p == nil {
			t.Fatalf("page %d should be available", i)
		}
		pages = append(pages, p)
	}
	if pager.Next(time.Now()) != nil {
		t.Error("pager handed out more pages than its limit")
		t.Fail()
	}
	pager.Replace(pages[0])
	if pager.Next(time.Now()) == nil {
		t.Error("pager should hand out a page after one was replaced")
		t.Fail()
	}
}
